package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/nbx/internal/models"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	JobListView ViewState = iota
	PromptView
)

// JobController is the part of the orchestrator the monitor drives.
type JobController interface {
	EnqueueDump(pageID string) (models.Job, error)
	Cancel(id string) bool
	Remove(id string) bool
}

// EventSource delivers orchestrator events, e.g. a jobs.Subscription.
type EventSource interface {
	Next(ctx context.Context) (models.JobEvent, error)
}

// Model represents the TUI application state.
type Model struct {
	ctx    context.Context
	view   ViewState
	jobs   JobController
	events EventSource
	items  []models.Job
	list   list.Model
	input  textinput.Model
	bar    progress.Model
	status string
	err    error
	closed bool
	width  int
	height int
	help   help.Model
	keys   keyMap
}

// NewModel creates a new TUI model that controls jobs and renders events from events.
func NewModel(ctx context.Context, jobs JobController, events EventSource) *Model {
	input := textinput.New()
	input.Placeholder = "page id or URL"
	input.Prompt = "Page: "

	l := list.New(nil, list.NewDefaultDelegate(), 80, 20)
	l.Title = "Jobs"
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.SetStatusBarItemName("job", "jobs")

	return &Model{
		ctx:    ctx,
		view:   JobListView,
		jobs:   jobs,
		events: events,
		list:   l,
		input:  input,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(24), progress.WithoutPercentage()),
		help:   help.New(),
		keys:   newKeyMap(),
	}
}

// Init starts listening for job events.
func (m *Model) Init() tea.Cmd {
	return m.waitForEvent()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width-4, msg.Height-6)
		return m, nil

	case tea.KeyMsg:
		if m.view == PromptView {
			return m.handlePromptKeys(msg)
		}
		return m.handleListKeys(msg)

	case Msg:
		switch msg.kind {
		case MsgJobEvent:
			m.apply(msg.data.(models.JobEvent))
			return m, m.waitForEvent()
		case MsgStreamClosed:
			m.closed = true
			if err, _ := msg.data.(error); err != nil && !errors.Is(err, context.Canceled) {
				m.err = err
			}
			return m, nil
		case MsgActionResult:
			res := msg.data.(actionResult)
			m.status, m.err = res.text, res.err
			return m, nil
		}
	}

	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(m.list.View())
	b.WriteString("\n\n")

	if m.view == PromptView {
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.submit, m.keys.back}))
		return b.String()
	}

	switch {
	case m.err != nil:
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	case m.status != "":
		b.WriteString(styles.ok.Render(m.status))
		b.WriteString("\n")
	}
	if m.closed {
		b.WriteString(styles.warn.Render("Event stream closed"))
		b.WriteString("\n")
	}
	b.WriteString(m.help.ShortHelpView(m.keys.ShortHelp()))
	return b.String()
}

func (m *Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.dump):
		m.view = PromptView
		m.input.SetValue("")
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.cancel):
		if job, ok := m.selected(); ok {
			return m, m.cancelJob(job.ID)
		}
		return m, nil
	case key.Matches(msg, m.keys.remove):
		if job, ok := m.selected(); ok {
			return m, m.removeJob(job.ID)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) handlePromptKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyCtrlC:
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = JobListView
		m.input.Blur()
		return m, nil
	case key.Matches(msg, m.keys.submit):
		pageID := strings.TrimSpace(m.input.Value())
		m.view = JobListView
		m.input.Blur()
		if pageID == "" {
			return m, nil
		}
		return m, m.submitDump(pageID)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// apply folds an orchestrator event into the job list, newest first.
func (m *Model) apply(ev models.JobEvent) {
	switch ev.Kind {
	case models.EventSnapshot:
		m.items = append([]models.Job(nil), ev.Items...)
	case models.EventJobAdded, models.EventJobUpdate:
		if ev.Job == nil {
			return
		}
		replaced := false
		for i := range m.items {
			if m.items[i].ID == ev.Job.ID {
				m.items[i] = *ev.Job
				replaced = true
				break
			}
		}
		if !replaced {
			m.items = append([]models.Job{*ev.Job}, m.items...)
		}
	}
	m.refresh()
}

func (m *Model) refresh() {
	items := make([]list.Item, len(m.items))
	for i, job := range m.items {
		items[i] = jobItem{job: job, bar: m.bar.ViewAs(float64(job.Progress) / 100)}
	}
	m.list.SetItems(items)
}

func (m *Model) selected() (models.Job, bool) {
	item, ok := m.list.SelectedItem().(jobItem)
	if !ok {
		return models.Job{}, false
	}
	return item.job, true
}

func (m *Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, err := m.events.Next(m.ctx)
		if err != nil {
			return streamClosedMsg(err)
		}
		return jobEventMsg(ev)
	}
}

func (m *Model) submitDump(pageID string) tea.Cmd {
	return func() tea.Msg {
		job, err := m.jobs.EnqueueDump(pageID)
		if err != nil {
			return actionResultMsg("", err)
		}
		return actionResultMsg(fmt.Sprintf("Queued dump %s", shortID(job.ID)), nil)
	}
}

func (m *Model) cancelJob(id string) tea.Cmd {
	return func() tea.Msg {
		if !m.jobs.Cancel(id) {
			return actionResultMsg("", fmt.Errorf("job %s not found", shortID(id)))
		}
		return actionResultMsg(fmt.Sprintf("Cancelled %s", shortID(id)), nil)
	}
}

func (m *Model) removeJob(id string) tea.Cmd {
	return func() tea.Msg {
		if !m.jobs.Remove(id) {
			return actionResultMsg("", fmt.Errorf("job %s is still active", shortID(id)))
		}
		return actionResultMsg(fmt.Sprintf("Removed %s", shortID(id)), nil)
	}
}
