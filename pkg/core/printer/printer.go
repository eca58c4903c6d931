// Package printer renders a progress view over a container snapshot:
// either a plain per-status count line, or an ASCII bar.
package printer

import (
	"fmt"
	"io"
	"strings"

	"github.com/batchctl/batchctl/pkg/core/status"
)

// Snapshot is the minimal read-only view a Printer needs from a
// Container: counts of jobs per status bucket.
type Snapshot struct {
	Total  int
	Counts map[status.Status]int
}

// Style selects the rendering mode.
type Style int

const (
	Plain Style = iota
	Bar
)

// Printer writes a Snapshot to w in the configured Style.
type Printer struct {
	w     io.Writer
	style Style
	width int
}

// New constructs a Printer. width only matters for Style Bar.
func New(w io.Writer, style Style, width int) *Printer {
	if width <= 0 {
		width = 40
	}
	return &Printer{w: w, style: style, width: width}
}

// Update renders one frame of progress.
func (p *Printer) Update(s Snapshot) {
	switch p.style {
	case Bar:
		p.updateBar(s)
	default:
		p.updatePlain(s)
	}
}

func (p *Printer) updatePlain(s Snapshot) {
	fmt.Fprintf(p.w, "total=%d configured=%d running=%d finished=%d success=%d failed=%d cancelled=%d\n",
		s.Total,
		s.Counts[status.Configured],
		s.Counts[status.Running],
		s.Counts[status.Finished],
		s.Counts[status.Success],
		s.Counts[status.Failed],
		s.Counts[status.Cancelled],
	)
}

func (p *Printer) updateBar(s Snapshot) {
	if s.Total == 0 {
		fmt.Fprintln(p.w, "[no jobs]")
		return
	}
	done := s.Counts[status.Success] + s.Counts[status.Failed] + s.Counts[status.Cancelled]
	filled := done * p.width / s.Total
	if filled > p.width {
		filled = p.width
	}
	bar := strings.Repeat("#", filled) + strings.Repeat("-", p.width-filled)
	fmt.Fprintf(p.w, "[%s] %d/%d done (success=%d failed=%d cancelled=%d)\n",
		bar, done, s.Total, s.Counts[status.Success], s.Counts[status.Failed], s.Counts[status.Cancelled])
}

// Summary renders the final one-line session report at loop exit.
func (p *Printer) Summary(s Snapshot) {
	fmt.Fprintf(p.w, "session complete: %d success, %d failed, %d cancelled (of %d)\n",
		s.Counts[status.Success], s.Counts[status.Failed], s.Counts[status.Cancelled], s.Total)
}
