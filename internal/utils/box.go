package utils

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Outcome selects the colour and marker of a summary box
type Outcome int

const (
	OutcomeInfo Outcome = iota
	OutcomeSuccess
	OutcomeWarning
	OutcomeFailure
)

var outcomeStyles = map[Outcome]struct {
	color  lipgloss.Color
	marker string
}{
	OutcomeInfo:    {lipgloss.Color("86"), "ℹ"},
	OutcomeSuccess: {lipgloss.Color("42"), "✓"},
	OutcomeWarning: {lipgloss.Color("178"), "⚠"},
	OutcomeFailure: {lipgloss.Color("196"), "✗"},
}

// Box collects a titled block of lines rendered inside a rounded border
type Box struct {
	outcome Outcome
	title   string
	lines   []string
}

// NewBox creates an empty box
func NewBox(outcome Outcome, title string) *Box {
	return &Box{outcome: outcome, title: title}
}

// AddLine appends a line of content
func (b *Box) AddLine(text string) *Box {
	b.lines = append(b.lines, text)
	return b
}

// AddKeyValue appends a "key: value" line
func (b *Box) AddKeyValue(key, value string) *Box {
	return b.AddLine(key + ": " + value)
}

// Render draws the box, wrapping content to the terminal width
func (b *Box) Render() string {
	s, ok := outcomeStyles[b.outcome]
	if !ok {
		s = outcomeStyles[OutcomeInfo]
	}

	accent := lipgloss.NewStyle().Foreground(s.color)
	header := accent.Bold(true).Render(s.marker + " " + b.title)
	body := strings.Join(append([]string{header}, b.lines...), "\n")

	frame := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(s.color).
		Padding(0, 1)
	if w := terminalWidth() - 8; lipgloss.Width(body) > w {
		frame = frame.Width(w)
	}
	return frame.Render(body)
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}
