package tokenring

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go-tokenring/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTablePrefix(t *testing.T) {
	t.Run("should accept lowercase identifiers", func(t *testing.T) {
		assert.NoError(t, ValidateTablePrefix("sensors"))
		assert.NoError(t, ValidateTablePrefix("farm_2"))
	})

	t.Run("should reject unsafe identifiers", func(t *testing.T) {
		assert.ErrorIs(t, ValidateTablePrefix("Sensors"), ErrInvalidTablePrefix)
		assert.ErrorIs(t, ValidateTablePrefix("2farm"), ErrInvalidTablePrefix)
		assert.ErrorIs(t, ValidateTablePrefix("farm; drop table x"), ErrInvalidTablePrefix)
	})

	t.Run("should reject empty and overlong prefixes", func(t *testing.T) {
		assert.Error(t, ValidateTablePrefix(""))
		assert.Error(t, ValidateTablePrefix(strings.Repeat("a", 49)))
	})
}

func TestReadingToRecord(t *testing.T) {
	t.Run("should map metrics and encode topology", func(t *testing.T) {
		// Arrange
		var reading = readingAt(1, 4)
		reading.Topology = []NodeAddress{"10.0.0.1:5000", "10.0.0.2:5000"}
		reading.Metrics[MetricHumidity] = nil

		// Act
		var record, err = readingToRecord(2, reading)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "reading-b", record.ID)
		assert.Equal(t, 2, record.Slot)
		assert.Equal(t, 4, record.Round)
		assert.Equal(t, 1, record.NodeIndex)
		require.NotNil(t, record.Temperature)
		assert.InDelta(t, 19.0, *record.Temperature, 0.001)
		assert.Nil(t, record.Humidity)
		assert.Nil(t, record.WindSpeed)
		assert.JSONEq(t, `["10.0.0.1:5000","10.0.0.2:5000"]`, record.Topology)
	})

	t.Run("should leave topology empty when reading has none", func(t *testing.T) {
		// Act
		var record, err = readingToRecord(1, readingAt(0, 1))

		// Assert
		require.NoError(t, err)
		assert.Empty(t, record.Topology)
	})
}

func TestLogSink(t *testing.T) {
	t.Run("should log present metrics of a reading", func(t *testing.T) {
		// Arrange
		var (
			buf bytes.Buffer
			sut = NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))
		)

		// Act
		var err = sut.Store(context.Background(), 3, readingAt(2, 7))

		// Assert
		require.NoError(t, err)
		var out = buf.String()
		assert.Contains(t, out, "slot=3")
		assert.Contains(t, out, "round=7")
		assert.Contains(t, out, "temperature=20")
		assert.NotContains(t, out, "humidity")
	})

	t.Run("should ignore nil reading", func(t *testing.T) {
		// Arrange
		var (
			buf bytes.Buffer
			sut = NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))
		)

		// Act
		var err = sut.Store(context.Background(), 1, nil)

		// Assert
		assert.NoError(t, err)
		assert.Empty(t, buf.String())
	})
}

func TestDatabaseSink(t *testing.T) {
	const prefix = "sink"

	var (
		newSink = func(t *testing.T, slots int) (*DatabaseSink, *database.Queries) {
			var db = database.SetupTestDatabase(t)
			sut, err := NewDatabaseSink(db, prefix, slots)
			require.NoError(t, err)
			return sut, database.NewQueries(db, prefix)
		}
		newReading = func(node, round int) *Reading {
			var t = 21.5
			return &Reading{
				ID:         uuid.NewString(),
				Node:       node,
				Round:      round,
				Metrics:    Metrics{MetricTemperature: &t},
				Topology:   []NodeAddress{"10.0.0.1:5000", "10.0.0.2:5000"},
				CapturedAt: time.Now(),
			}
		}
	)

	t.Run("should store reading under its slot", func(t *testing.T) {
		// Arrange
		var (
			sut, queries = newSink(t, 2)
			ctx          = context.Background()
			reading      = newReading(1, 3)
		)

		// Act
		var err = sut.Store(ctx, reading.Slot(), reading)

		// Assert
		require.NoError(t, err)
		records, err := queries.ListReadings(ctx, 2, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, reading.ID, records[0].ID)
		assert.Equal(t, 3, records[0].Round)
		assert.JSONEq(t, `["10.0.0.1:5000","10.0.0.2:5000"]`, records[0].Topology)
	})

	t.Run("should create tables for slots beyond the startup ring", func(t *testing.T) {
		// Arrange
		var (
			sut, queries = newSink(t, 1)
			ctx          = context.Background()
			reading      = newReading(3, 1)
		)

		// Act
		var err = sut.Store(ctx, reading.Slot(), reading)

		// Assert
		require.NoError(t, err)
		records, err := queries.ListReadings(ctx, 4, 10)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("should ignore nil reading", func(t *testing.T) {
		// Arrange
		var sut, _ = newSink(t, 1)

		// Act
		var err = sut.Store(context.Background(), 1, nil)

		// Assert
		assert.NoError(t, err)
	})

	t.Run("should reject invalid prefix", func(t *testing.T) {
		// Act
		var _, err = NewDatabaseSink(nil, "Bad-Prefix", 1)

		// Assert
		assert.ErrorIs(t, err, ErrInvalidTablePrefix)
	})
}
