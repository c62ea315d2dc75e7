package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles incoming messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if msg.Width > 10 {
			m.bar.Width = min(msg.Width-10, 50)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.cancelled && m.cancel != nil {
				m.cancel()
			}
			m.cancelled = true
			return m, nil
		}
		return m, nil

	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case PlanMsg:
		m.planID = msg.PlanID
		m.outline = msg.Outline
		return m, nil

	case StepMsg:
		m.upsert(msg)
		return m, nil

	case DoneMsg:
		m.summary = msg.Summary
		m.err = msg.Err
		m.finished = true
		return m, tea.Quit
	}

	return m, nil
}
