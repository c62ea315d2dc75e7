package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/weftworks/loom/internal/engine"
)

// View renders the dashboard.
func (m Model) View() string {
	var sections []string

	sections = append(sections, titleStyle.Render("loom • "+m.goal))

	if m.outline != "" && len(m.rows) == 0 {
		sections = append(sections, outlineStyle.Render(strings.TrimRight(m.outline, "\n")))
	}

	if total := len(m.rows); total > 0 {
		ratio := math.Min(1.0, float64(m.CompletedSteps())/float64(total))
		label := fmt.Sprintf("%d/%d", m.CompletedSteps(), total)
		sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Left, label, " ", m.bar.ViewAs(ratio)))
		sections = append(sections, m.renderRows())
	}

	switch {
	case m.err != nil:
		sections = append(sections, summaryStyle.Render(errorStyle.Render("✗ "+m.err.Error())))
	case m.finished:
		sections = append(sections, summaryStyle.Render(m.summary))
	case m.cancelled:
		sections = append(sections, summaryStyle.Render(skippedStyle.Render("cancelling...")))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (m Model) renderRows() string {
	lines := make([]string, 0, len(m.rows))
	for _, r := range m.rows {
		line := fmt.Sprintf(" %s %s. %s", m.glyph(r.status), r.index, r.title)
		if r.finished() && r.tools > 0 {
			line = fmt.Sprintf("%s (%d tool calls)", line, r.tools)
		}
		if r.err != "" {
			line = fmt.Sprintf("%s — %s", line, failureStyle.Render(r.err))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Model) glyph(status string) string {
	switch status {
	case engine.StatusSuccess:
		return successStyle.Render("✓")
	case engine.StatusRunning:
		return m.spinner.View()
	case engine.StatusFailed:
		return failureStyle.Render("✗")
	case engine.StatusSkipped:
		return skippedStyle.Render("⊘")
	default:
		return pendingStyle.Render("…")
	}
}
