package ux

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Styles renders status words and headings. Colors are dropped when the
// writer is not a terminal.
type Styles struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Pass    lipgloss.Style
	Fail    lipgloss.Style
	Warn    lipgloss.Style
	Muted   lipgloss.Style
	Box     lipgloss.Style
	ErrText lipgloss.Style
}

// NewStyles creates styles for output written to w.
func NewStyles(w io.Writer) *Styles {
	r := lipgloss.NewRenderer(w)
	return &Styles{
		Title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Pass:    r.NewStyle().Foreground(lipgloss.Color("2")),
		Fail:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		Warn:    r.NewStyle().Foreground(lipgloss.Color("3")),
		Muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		Box:     r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		ErrText: r.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// Status colors a status word: success/passed/healthy green, failure red,
// anything else yellow.
func (s *Styles) Status(status string) string {
	switch status {
	case "success", "passed", "healthy", "PASSED":
		return s.Pass.Render(status)
	case "failure", "failed", "unhealthy", "FAILED":
		return s.Fail.Render(status)
	default:
		return s.Warn.Render(status)
	}
}
