package tokenring

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
)

// Renderer receives every completed lap. Errors are logged by the engine and
// never affect the protocol.
type Renderer interface {
	Render(round int, readings []*Reading) error
}

type nopRenderer struct{}

func (nopRenderer) Render(int, []*Reading) error { return nil }

// TextRenderer writes a lap as a table: one column per node, then the average.
// Absent values are shown as "x".
type TextRenderer struct {
	w io.Writer
}

// NewTextRenderer creates a TextRenderer writing to w.
func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w}
}

// Render implements Renderer.
func (r *TextRenderer) Render(round int, readings []*Reading) error {
	var tw = tabwriter.NewWriter(r.w, 0, 0, 2, ' ', tabwriter.AlignRight)

	var header = []string{fmt.Sprintf("round %d", round)}
	for _, reading := range readings {
		header = append(header, fmt.Sprintf("Node%d", reading.Slot()))
	}
	header = append(header, "Avg")
	fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")

	for _, name := range MetricNames {
		var (
			row   = []string{name}
			sum   float64
			count int
		)
		for _, reading := range readings {
			v, ok := reading.Metrics.Get(name)
			if !ok {
				row = append(row, "x")
				continue
			}
			row = append(row, fmt.Sprintf("%.2f", v))
			sum += v
			count++
		}
		if count == 0 {
			row = append(row, "x")
		} else {
			row = append(row, fmt.Sprintf("%.2f", sum/float64(count)))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t")+"\t")
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to render round %d: %w", round, err)
	}
	return nil
}

// DirRenderer writes each lap to lap-<round>.txt in a directory.
type DirRenderer struct {
	dir string
}

// NewDirRenderer creates the directory if needed.
func NewDirRenderer(dir string) (*DirRenderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create render directory: %w", err)
	}
	return &DirRenderer{dir: dir}, nil
}

// Render implements Renderer.
func (r *DirRenderer) Render(round int, readings []*Reading) error {
	f, err := os.Create(filepath.Join(r.dir, fmt.Sprintf("lap-%d.txt", round)))
	if err != nil {
		return fmt.Errorf("failed to create lap file: %w", err)
	}
	defer f.Close()

	return NewTextRenderer(f).Render(round, readings)
}
