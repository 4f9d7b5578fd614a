package viz

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/odesens/internal/calibrate"
	"github.com/san-kum/odesens/internal/ode"
)

func push(t *testing.T, m tea.Model, msg tea.Msg) tea.Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next
}

func TestLiveViewShowsProgress(t *testing.T) {
	updates := make(chan calibrate.Iteration)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m tea.Model = NewLive("decay", []string{"rate"}, updates, cancel)
	m = push(t, m, iterMsg{Iter: 0, Params: ode.Params{0.3}, Loss: 1.5, GradNorm: 0.8})
	m = push(t, m, iterMsg{Iter: 1, Params: ode.Params{0.45}, Loss: 0.9, GradNorm: 0.5})

	view := m.View()
	for _, want := range []string{"DECAY CALIBRATION", "RUNNING", "rate", "0.45", "Loss"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestLivePauseHoldsUpdates(t *testing.T) {
	updates := make(chan calibrate.Iteration)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m tea.Model = NewLive("decay", nil, updates, cancel)
	m = push(t, m, iterMsg{Iter: 0, Params: ode.Params{0.3}, Loss: 1.5})
	m = push(t, m, tea.KeyMsg{Type: tea.KeySpace})
	m = push(t, m, iterMsg{Iter: 1, Params: ode.Params{0.9}, Loss: 0.2})

	view := m.View()
	if !strings.Contains(view, "PAUSED") {
		t.Error("view should report the pause")
	}
	if strings.Contains(view, "0.9") {
		t.Error("paused view should keep showing the pre-pause iteration")
	}
}

func TestLiveQuitCancelsFit(t *testing.T) {
	updates := make(chan calibrate.Iteration)
	ctx, cancel := context.WithCancel(context.Background())

	var m tea.Model = NewLive("decay", nil, updates, cancel)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("quit should produce a command")
	}
	if ctx.Err() == nil {
		t.Error("quit should cancel the fit context")
	}
}

func TestLiveFinishesWhenChannelCloses(t *testing.T) {
	updates := make(chan calibrate.Iteration)
	close(updates)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m tea.Model = NewLive("decay", nil, updates, cancel)
	m = push(t, m, doneMsg{})
	if !strings.Contains(m.View(), "DONE") {
		t.Error("view should report completion")
	}
}
