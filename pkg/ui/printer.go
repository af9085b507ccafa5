// Package ui renders run progress for the operator: one styled line per
// task result as it completes, a run header and a final summary block.
package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/embercast/kindler/pkg/engine"
)

var (
	colorGreen  = lipgloss.Color("#22c55e")
	colorRed    = lipgloss.Color("#ef4444")
	colorYellow = lipgloss.Color("#eab308")
	colorBlue   = lipgloss.Color("#3b82f6")
	colorDim    = lipgloss.Color("#6b7280")
	colorWhite  = lipgloss.Color("#f9fafb")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorWhite)
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	okStyle      = lipgloss.NewStyle().Foreground(colorGreen)
	failedStyle  = lipgloss.NewStyle().Foreground(colorRed)
	warningStyle = lipgloss.NewStyle().Foreground(colorYellow)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
)

const (
	checkMark = "[OK]"
	crossMark = "[!!]"
	deltaMark = "[~~]"
	warnMark  = "[??]"
	skipMark  = "[--]"
)

// Printer writes run progress lines to the given writer. It implements
// engine.ResultSink; fan-out lanes deliver results concurrently, so
// writes are serialized.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPrinter creates a printer.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Header announces the run.
func (p *Printer) Header(goal engine.Goal, runID string, hostCount int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	detail := fmt.Sprintf("(%d hosts)", hostCount)
	if runID != "" {
		detail = fmt.Sprintf("(run %s, %d hosts)", shortID(runID), hostCount)
	}
	fmt.Fprintf(p.out, "%s %s\n",
		titleStyle.Render(fmt.Sprintf("kindler %s", goal)),
		dimStyle.Render(detail))
}

// OnResult renders one task result line.
func (p *Printer) OnResult(res engine.TaskResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mark, style := statusGlyph(res.Status)
	line := fmt.Sprintf("%s %-22s %-14s %s",
		style.Render(mark),
		res.Task,
		res.Host,
		dimStyle.Render(res.Message))
	fmt.Fprintln(p.out, line)
}

// Summary renders the final block once the report is sealed.
func (p *Printer) Summary(report *engine.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := report.Summary()
	rollup := report.Rollup()
	_, style := statusGlyph(rollup)

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, sectionStyle.Render("Run summary"))
	fmt.Fprintf(p.out, "  %s %s\n", dimStyle.Render("rollup:"), style.Render(string(rollup)))
	fmt.Fprintf(p.out, "  %s %d ok, %d changed, %d warnings, %d failed, %d skipped (%d total)\n",
		dimStyle.Render("tasks: "), s.OK, s.Changed, s.Warnings, s.Failed, s.Skipped, s.Total)
	fmt.Fprintf(p.out, "  %s %s\n", dimStyle.Render("took:  "), report.Duration().Round(10*time.Millisecond).String())
}

func statusGlyph(status engine.Status) (string, lipgloss.Style) {
	switch status {
	case engine.StatusOK:
		return checkMark, okStyle
	case engine.StatusChanged:
		return deltaMark, okStyle
	case engine.StatusWarning:
		return warnMark, warningStyle
	case engine.StatusFailed:
		return crossMark, failedStyle
	case engine.StatusSkipped:
		return skipMark, dimStyle
	default:
		return skipMark, dimStyle
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
