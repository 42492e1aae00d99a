package service

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/nuxxor/Mevzubase/internal/services/batch/domain"
)

// BarWidth is the number of cells in the progress bar
const BarWidth = 20

const tableHeader = "WINDOW                 STATUS   DONE/TOTAL       %   PEND  INPR RETRY  FAIL  PROGRESS"

// Bar renders pct in [0,100] as [####----]
func Bar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	filled = max(0, min(filled, width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

// Table renders monitor frames
type Table struct {
	// Color enables ANSI colors; the caller decides from the tty and --no-color
	Color bool
}

func (t Table) paint(attr color.Attribute, s string) string {
	c := color.New(attr)
	if t.Color {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c.Sprint(s)
}

func (t Table) state(st domain.State) string {
	s := fmt.Sprintf("%-8s", st)
	switch st {
	case domain.StateActive:
		return t.paint(color.FgCyan, s)
	case domain.StateDone:
		return t.paint(color.FgGreen, s)
	case domain.StateFailed:
		return t.paint(color.FgRed, s)
	case domain.StateStopped:
		return t.paint(color.FgYellow, s)
	default:
		return t.paint(color.Faint, s)
	}
}

// Line renders one row; done counts DONE and FAILED entries
func (t Table) Line(r domain.Row) string {
	c := r.Counts
	pct := c.Percent()
	return fmt.Sprintf("%s..%s %s %6d/%-6d %5.1f%% %5d %5d %5d %5d  %s",
		r.Job.Window.Start.Format("2006-01-02"), r.Job.Window.End.Format("2006-01-02"),
		t.state(r.State), c.Finished(), c.Total(), pct,
		c.Pending, c.InProgress, c.Retry, c.Failed, Bar(pct, BarWidth))
}

// Render writes a full frame
func (t Table) Render(w io.Writer, rows []domain.Row) {
	var b strings.Builder
	b.WriteString(t.paint(color.Bold, tableHeader))
	b.WriteByte('\n')
	b.WriteString(strings.Repeat("-", len(tableHeader)))
	b.WriteByte('\n')
	var active, queued, finished int
	for _, r := range rows {
		b.WriteString(t.Line(r))
		b.WriteByte('\n')
		switch r.State {
		case domain.StateActive:
			active++
		case domain.StateQueued:
			queued++
		default:
			finished++
		}
	}
	fmt.Fprintf(&b, "Active: %d | Queued: %d | Finished: %d\n", active, queued, finished)
	_, _ = io.WriteString(w, b.String())
}

// Summary writes the closing report
func (t Table) Summary(w io.Writer, s domain.Summary) {
	failed := s.Failed()
	fmt.Fprintf(w, "%d windows finished, %d failed\n", len(s.Outcomes), len(failed))
	for _, o := range failed {
		line := fmt.Sprintf("  %s exit=%d", o.Job.Window, o.ExitCode)
		if o.Err != nil {
			line += " err=" + o.Err.Error()
		}
		fmt.Fprintln(w, t.paint(color.FgRed, line))
	}
}
