package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/julianshen/coverclient/pkg/cover"
)

var (
	labelStyle   = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	summaryStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of w, or fallback when it is not a
// terminal.
func terminalWidth(w io.Writer, fallback int) int {
	f, ok := w.(*os.File)
	if !ok {
		return fallback
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return fallback
	}
	return width
}

// progress prints analysis events. Styling is applied only on a terminal.
type progress struct {
	mu     sync.Mutex
	w      io.Writer
	styled bool
	count  int
}

func newProgress(w io.Writer) *progress {
	return &progress{w: w, styled: isTerminal(w)}
}

func (p *progress) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func statusStyle(s cover.Status) lipgloss.Style {
	switch s {
	case cover.StatusCompleted:
		return okStyle
	case cover.StatusErrored:
		return failStyle
	case cover.StatusCanceled, cover.StatusStopping:
		return warnStyle
	default:
		return labelStyle
	}
}

func (p *progress) status(id string, from, to cover.Status, pr cover.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line := fmt.Sprintf("%s %s -> %s", p.render(mutedStyle, id), from, p.render(statusStyle(to), to.String()))
	if pr.Total > 0 {
		line += fmt.Sprintf(" (%d/%d)", pr.Completed, pr.Total)
	}
	fmt.Fprintln(p.w, line)
}

func (p *progress) results(rs []cover.Result, testFile string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count += len(rs)
	if testFile == "" {
		testFile = "(unknown file)"
	}
	noun := "tests"
	if len(rs) == 1 {
		noun = "test"
	}
	fmt.Fprintf(p.w, "  %s %d %s for %s\n", p.render(okStyle, "+"), len(rs), noun, testFile)
}

func (p *progress) warn(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s\n", p.render(warnStyle, "warning:"), msg)
}

func (p *progress) summary(id string, status cover.Status, testsDir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	text := fmt.Sprintf("%s %s\n%s %s\n%s %d",
		p.render(labelStyle, "Analysis:"), id,
		p.render(labelStyle, "Status:  "), p.render(statusStyle(status), status.String()),
		p.render(labelStyle, "Results: "), p.count)
	if testsDir != "" {
		text += fmt.Sprintf("\n%s %s", p.render(labelStyle, "Tests:   "), testsDir)
	}
	if p.styled {
		text = summaryStyle.Render(text)
	}
	fmt.Fprintln(p.w, text)
}
