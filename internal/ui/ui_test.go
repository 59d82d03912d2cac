package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/shared"
)

type fakeController struct {
	dumped    []string
	canceled  []string
	removed   []string
	enqueue   error
	removable bool
}

func (f *fakeController) EnqueueDump(pageID string) (models.Job, error) {
	if f.enqueue != nil {
		return models.Job{}, f.enqueue
	}
	f.dumped = append(f.dumped, pageID)
	return models.Job{ID: "job-new-0001", Type: models.JobDump}, nil
}

func (f *fakeController) Cancel(id string) bool {
	f.canceled = append(f.canceled, id)
	return true
}

func (f *fakeController) Remove(id string) bool {
	f.removed = append(f.removed, id)
	return f.removable
}

type chanEvents chan models.JobEvent

func (c chanEvents) Next(ctx context.Context) (models.JobEvent, error) {
	select {
	case ev, ok := <-c:
		if !ok {
			return models.JobEvent{}, errors.New("closed")
		}
		return ev, nil
	case <-ctx.Done():
		return models.JobEvent{}, ctx.Err()
	}
}

func job(id string, status models.JobStatus, progress int) models.Job {
	return models.Job{
		ID:        id,
		Type:      models.JobDump,
		Status:    status,
		Progress:  progress,
		Message:   "msg " + id,
		Params:    map[string]string{models.ParamPageID: "page-" + id},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func ids(m *Model) []string {
	var out []string
	for _, j := range m.items {
		out = append(out, j.ID)
	}
	return out
}

// run executes cmd and feeds the resulting message back into the model.
func run(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	m.Update(cmd())
}

func newModel() (*Model, *fakeController, chanEvents) {
	ctl := &fakeController{}
	events := make(chanEvents, 8)
	return NewModel(context.Background(), ctl, events), ctl, events
}

func TestModel_Events(t *testing.T) {
	t.Run("snapshot replaces the list", func(t *testing.T) {
		m, _, _ := newModel()
		m.Update(jobEventMsg(models.JobEvent{Kind: models.EventSnapshot, Items: []models.Job{job("b", models.StatusRunning, 10), job("a", models.StatusDone, 100)}}))
		if got := strings.Join(ids(m), ","); got != "b,a" {
			t.Errorf("items = %s, want b,a", got)
		}
		if len(m.list.Items()) != 2 {
			t.Errorf("list has %d items, want 2", len(m.list.Items()))
		}
	})

	t.Run("added jobs go first and updates replace in place", func(t *testing.T) {
		m, _, _ := newModel()
		m.Update(jobEventMsg(models.JobEvent{Kind: models.EventSnapshot, Items: []models.Job{job("a", models.StatusRunning, 0)}}))
		added := job("b", models.StatusQueued, 0)
		m.Update(jobEventMsg(models.JobEvent{Kind: models.EventJobAdded, Job: &added}))
		updated := job("a", models.StatusRunning, 55)
		m.Update(jobEventMsg(models.JobEvent{Kind: models.EventJobUpdate, Job: &updated}))

		if got := strings.Join(ids(m), ","); got != "b,a" {
			t.Errorf("items = %s, want b,a", got)
		}
		if m.items[1].Progress != 55 {
			t.Errorf("progress = %d, want 55", m.items[1].Progress)
		}
	})

	t.Run("each event re-arms the wait", func(t *testing.T) {
		m, _, events := newModel()
		_, cmd := m.Update(jobEventMsg(models.JobEvent{Kind: models.EventSnapshot}))
		next := job("c", models.StatusQueued, 0)
		events <- models.JobEvent{Kind: models.EventJobAdded, Job: &next}
		run(t, m, cmd)
		if got := strings.Join(ids(m), ","); got != "c" {
			t.Errorf("items = %s, want c", got)
		}
	})

	t.Run("stream close is shown", func(t *testing.T) {
		m, _, events := newModel()
		close(events)
		run(t, m, m.Init())
		if !m.closed || !strings.Contains(m.View(), "Event stream closed") {
			t.Errorf("closed = %v, view = %q", m.closed, m.View())
		}
	})
}

func TestModel_Keys(t *testing.T) {
	t.Run("d prompts for a page and enter submits", func(t *testing.T) {
		m, ctl, _ := newModel()
		m.Update(runes("d"))
		if m.view != PromptView {
			t.Fatalf("view = %v, want PromptView", m.view)
		}
		m.Update(runes("abc123"))
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		if m.view != JobListView {
			t.Errorf("view = %v, want JobListView", m.view)
		}
		run(t, m, cmd)
		if len(ctl.dumped) != 1 || ctl.dumped[0] != "abc123" {
			t.Errorf("dumped = %v, want [abc123]", ctl.dumped)
		}
		if !strings.Contains(m.status, "Queued dump job-new-") {
			t.Errorf("status = %q", m.status)
		}
	})

	t.Run("esc leaves the prompt without submitting", func(t *testing.T) {
		m, ctl, _ := newModel()
		m.Update(runes("d"))
		m.Update(runes("abc"))
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
		if m.view != JobListView || cmd != nil || len(ctl.dumped) != 0 {
			t.Errorf("view = %v cmd = %v dumped = %v", m.view, cmd, ctl.dumped)
		}
	})

	t.Run("enqueue errors are shown", func(t *testing.T) {
		m, ctl, _ := newModel()
		ctl.enqueue = shared.ErrCapacityExceeded
		m.Update(runes("d"))
		m.Update(runes("abc"))
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		run(t, m, cmd)
		if !errors.Is(m.err, shared.ErrCapacityExceeded) {
			t.Fatalf("err = %v", m.err)
		}
		if !strings.Contains(m.View(), "capacity") {
			t.Errorf("view does not show the error: %q", m.View())
		}
	})

	t.Run("c and x act on the selected job", func(t *testing.T) {
		m, ctl, _ := newModel()
		m.Update(jobEventMsg(models.JobEvent{Kind: models.EventSnapshot, Items: []models.Job{job("first", models.StatusRunning, 10)}}))

		_, cmd := m.Update(runes("c"))
		run(t, m, cmd)
		if len(ctl.canceled) != 1 || ctl.canceled[0] != "first" {
			t.Errorf("canceled = %v", ctl.canceled)
		}

		_, cmd = m.Update(runes("x"))
		run(t, m, cmd)
		if len(ctl.removed) != 1 || m.err == nil {
			t.Errorf("removed = %v err = %v, want a refusal for an active job", ctl.removed, m.err)
		}

		ctl.removable = true
		_, cmd = m.Update(runes("x"))
		run(t, m, cmd)
		if m.err != nil || !strings.HasPrefix(m.status, "Removed") {
			t.Errorf("status = %q err = %v", m.status, m.err)
		}
	})

	t.Run("c without jobs does nothing", func(t *testing.T) {
		m, ctl, _ := newModel()
		if _, cmd := m.Update(runes("c")); cmd != nil || len(ctl.canceled) != 0 {
			t.Errorf("cmd = %v canceled = %v", cmd, ctl.canceled)
		}
	})

	t.Run("q quits", func(t *testing.T) {
		m, _, _ := newModel()
		_, cmd := m.Update(runes("q"))
		if cmd == nil {
			t.Fatal("expected quit command")
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("cmd() is not tea.QuitMsg")
		}
	})
}

func TestModel_View(t *testing.T) {
	m, _, _ := newModel()
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m.Update(jobEventMsg(models.JobEvent{Kind: models.EventSnapshot, Items: []models.Job{job("abcdef0123", models.StatusRunning, 40)}}))

	view := m.View()
	for _, want := range []string{"abcdef01", "page-abcdef0123", "running", "40%", "msg abcdef0123"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}
