package tokenring

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextRenderer(t *testing.T) {
	t.Run("should render one column per node and the average", func(t *testing.T) {
		// Arrange
		var (
			buf      bytes.Buffer
			sut      = NewTextRenderer(&buf)
			readings = []*Reading{readingAt(0, 2), readingAt(1, 2)}
		)

		// Act
		var err = sut.Render(2, readings)

		// Assert
		require.NoError(t, err)
		var lines = strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 1+len(MetricNames))
		assert.Contains(t, lines[0], "round 2")
		assert.Contains(t, lines[0], "Node1")
		assert.Contains(t, lines[0], "Node2")
		assert.Contains(t, lines[0], "Avg")
		assert.Contains(t, lines[1], "18.00")
		assert.Contains(t, lines[1], "19.00")
		assert.Contains(t, lines[1], "18.50")
	})

	t.Run("should mark absent values", func(t *testing.T) {
		// Arrange
		var (
			buf     bytes.Buffer
			sut     = NewTextRenderer(&buf)
			reading = readingAt(0, 1)
		)
		reading.Metrics[MetricTemperature] = nil

		// Act
		var err = sut.Render(1, []*Reading{reading})

		// Assert
		require.NoError(t, err)
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n")[1:] {
			assert.Equal(t, 2, strings.Count(line, "x"), line)
		}
	})
}

func TestDirRenderer(t *testing.T) {
	t.Run("should write one file per lap", func(t *testing.T) {
		// Arrange
		var dir = filepath.Join(t.TempDir(), "laps")
		sut, err := NewDirRenderer(dir)
		require.NoError(t, err)

		// Act
		require.NoError(t, sut.Render(1, []*Reading{readingAt(0, 1)}))
		require.NoError(t, sut.Render(2, []*Reading{readingAt(0, 2)}))

		// Assert
		for _, name := range []string{"lap-1.txt", "lap-2.txt"} {
			raw, err := os.ReadFile(filepath.Join(dir, name))
			require.NoError(t, err)
			assert.Contains(t, string(raw), "Node1")
		}
	})
}
