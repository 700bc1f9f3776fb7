package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/saumyakr1232/can-msg-visualizer/downsample"
	"github.com/saumyakr1232/can-msg-visualizer/store"
)

// sparkRunes map normalized values to block glyphs, low to high.
var sparkRunes = []rune("▁▂▃▄▅▆▇█")

var sparkStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))

// printSparklines renders one reduced sparkline per accumulated signal.
func printSparklines(s *store.Store, maxPoints int, noColor bool) {
	names := s.SignalNames()
	if len(names) == 0 {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	for _, name := range names {
		points := s.Series(name)
		reduced := downsample.Reduce(points, maxPoints)
		line := sparkline(reduced)
		if !noColor {
			line = sparkStyle.Render(line)
		}
		fmt.Fprintf(w, "%s\t%s\t(%d points)\n", name, line, len(points))
	}
}

// sparkline maps a point series onto block glyphs scaled between the
// series minimum and maximum.
func sparkline(points []store.Point) string {
	if len(points) == 0 {
		return ""
	}

	lo, hi := points[0].Value, points[0].Value
	for _, p := range points[1:] {
		if p.Value < lo {
			lo = p.Value
		}
		if p.Value > hi {
			hi = p.Value
		}
	}

	var b strings.Builder
	span := hi - lo
	for _, p := range points {
		idx := 0
		if span > 0 {
			idx = int((p.Value - lo) / span * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}
