// Package tui renders the execution dashboard: one row per plan step fed by
// executor observer notifications, a progress bar, and a closing summary.
package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/weftworks/loom/internal/engine"
	"github.com/weftworks/loom/internal/plan"
)

// PlanMsg announces the persisted plan before execution starts.
type PlanMsg struct {
	PlanID  string
	Outline string
}

// StepMsg is an executor observer notification forwarded into the program.
type StepMsg engine.Notification

// DoneMsg ends the dashboard with the run's summary or error.
type DoneMsg struct {
	Summary string
	Err     error
}

type row struct {
	id     string
	index  string
	title  string
	status string
	tools  int
	err    string
}

func (r row) finished() bool {
	switch r.status {
	case engine.StatusSuccess, engine.StatusFailed, engine.StatusSkipped:
		return true
	default:
		return false
	}
}

// Model is the bubbletea state for one orchestration run.
type Model struct {
	goal   string
	cancel context.CancelFunc

	spinner spinner.Model
	bar     progress.Model

	planID  string
	outline string
	rows    []row
	byID    map[string]int

	summary   string
	err       error
	finished  bool
	cancelled bool

	width int
}

// NewModel builds the dashboard for a goal. cancel is invoked on Ctrl-C so
// the run's context unwinds; the program quits when DoneMsg arrives.
func NewModel(goal string, cancel context.CancelFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = runningStyle

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 30

	return Model{
		goal:    goal,
		cancel:  cancel,
		spinner: s,
		bar:     bar,
		byID:    make(map[string]int),
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// TotalSteps returns how many steps the dashboard tracks.
func (m Model) TotalSteps() int {
	return len(m.rows)
}

// CompletedSteps returns how many steps reached a terminal status.
func (m Model) CompletedSteps() int {
	n := 0
	for _, r := range m.rows {
		if r.finished() {
			n++
		}
	}
	return n
}

// IsFinished reports whether the run has ended.
func (m Model) IsFinished() bool {
	return m.finished
}

// upsert records a notification, keeping rows sorted by plan index.
func (m *Model) upsert(n StepMsg) {
	if i, ok := m.byID[n.StepID]; ok {
		m.rows[i].status = n.Status
		m.rows[i].tools = n.Tools
		m.rows[i].err = n.Error
		return
	}

	r := row{id: n.StepID, index: n.Index, title: n.Title, status: n.Status, tools: n.Tools, err: n.Error}
	at := len(m.rows)
	for i := range m.rows {
		if plan.CompareIndex(r.index, m.rows[i].index) < 0 {
			at = i
			break
		}
	}
	m.rows = append(m.rows, row{})
	copy(m.rows[at+1:], m.rows[at:])
	m.rows[at] = r

	for i := at; i < len(m.rows); i++ {
		m.byID[m.rows[i].id] = i
	}
}
