package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/orchestrator"
	"github.com/desertthunder/aria/internal/shared"
)

var testResult = models.GenerationResult{
	PlaylistName: "Lofi Study Mix",
	PlaylistURL:  "https://open.spotify.com/playlist/abc",
	Summary:      "3 tracks for studying.",
}

type fakeSubmitter struct {
	mu      sync.Mutex
	prompts []string
	started int
	err     error
}

func (f *fakeSubmitter) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeSubmitter) Submit(ctx context.Context, prompt string) (*models.GenerationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	r := testResult
	return &r, nil
}

func send(m *Model, msg tea.Msg) tea.Cmd {
	_, cmd := m.Update(msg)
	return cmd
}

func typeText(m *Model, text string) {
	for _, r := range text {
		send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

func TestConsole(t *testing.T) {
	t.Run("Overlay And Alerts", func(t *testing.T) {
		var buf bytes.Buffer
		c := NewConsole(&buf)

		c.LockButton(orchestrator.LabelGenerating)
		c.ShowOverlay(orchestrator.LoadingSteps[0])
		c.SetOverlayMessage(orchestrator.LoadingSteps[0])
		c.SetOverlayMessage(orchestrator.LoadingSteps[1])
		c.Alert(orchestrator.AlertBroken)
		c.HideOverlay()
		c.UnlockButton(orchestrator.LabelDefault)

		out := buf.String()
		if strings.Count(out, orchestrator.LoadingSteps[0]) != 1 {
			t.Errorf("expected repeated overlay message printed once, got %q", out)
		}
		if !strings.Contains(out, orchestrator.LoadingSteps[1]) {
			t.Errorf("expected second loading step, got %q", out)
		}
		if alerts := c.Alerts(); len(alerts) != 1 || alerts[0] != orchestrator.AlertBroken {
			t.Errorf("unexpected alerts %v", alerts)
		}
		if label, locked := c.Label(); locked || label != orchestrator.LabelDefault {
			t.Errorf("expected unlocked default label, got %q locked=%v", label, locked)
		}
	})

	t.Run("Result Card", func(t *testing.T) {
		var buf bytes.Buffer
		c := NewConsole(&buf)
		c.ShowResult(testResult)

		out := buf.String()
		for _, want := range []string{testResult.PlaylistName, testResult.PlaylistURL, testResult.Summary} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in card, got %q", want, out)
			}
		}
	})
}

func TestProgramPresenter(t *testing.T) {
	var msgs []tea.Msg
	p := NewProgramPresenter(func(msg tea.Msg) { msgs = append(msgs, msg) })

	p.LockButton("a")
	p.ShowOverlay("b")
	p.HideOverlay()
	p.ShowResult(testResult)
	p.Alert("c")
	p.StateChanged(orchestrator.Done)

	want := []MsgKind{MsgButton, MsgOverlay, MsgOverlay, MsgResult, MsgAlert, MsgState}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, k := range want {
		if got := msgs[i].(Msg).kind; got != k {
			t.Errorf("message %d: expected kind %d, got %d", i, k, got)
		}
	}
}

func TestModel(t *testing.T) {
	ctx := context.Background()

	t.Run("Submit", func(t *testing.T) {
		sub := &fakeSubmitter{}
		m := NewModel(ctx)
		m.Attach(sub)

		typeText(m, "road trip rock")
		cmd := send(m, tea.KeyMsg{Type: tea.KeyEnter})
		if cmd == nil {
			t.Fatal("expected a submit command")
		}
		msg := cmd()
		if len(sub.prompts) != 1 || sub.prompts[0] != "road trip rock" {
			t.Errorf("unexpected prompts %v", sub.prompts)
		}

		send(m, msg)
		if m.input.Value() != "" {
			t.Errorf("expected prompt cleared after success, got %q", m.input.Value())
		}
	})

	t.Run("Locked Button Ignores Enter", func(t *testing.T) {
		sub := &fakeSubmitter{}
		m := NewModel(ctx)
		m.Attach(sub)

		send(m, buttonMsg(orchestrator.LabelGenerating, true))
		if cmd := send(m, tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
			t.Error("expected no command while locked")
		}
		if m.label != orchestrator.LabelGenerating {
			t.Errorf("expected label %q, got %q", orchestrator.LabelGenerating, m.label)
		}

		send(m, buttonMsg(orchestrator.LabelDefault, false))
		if m.locked {
			t.Error("expected button unlocked")
		}
	})

	t.Run("Presenter Messages", func(t *testing.T) {
		m := NewModel(ctx)

		send(m, overlayMsg(orchestrator.MessageFinalising, true))
		if !m.overlayOn || !strings.Contains(m.View(), orchestrator.MessageFinalising) {
			t.Error("expected overlay in view")
		}

		send(m, alertMsg(orchestrator.AlertCancelled))
		if !strings.Contains(m.View(), orchestrator.AlertCancelled) {
			t.Error("expected alert in view")
		}

		send(m, resultMsg(testResult))
		if m.result == nil || m.result.PlaylistName != testResult.PlaylistName {
			t.Fatalf("expected result, got %+v", m.result)
		}
		if m.alert != "" {
			t.Error("expected result to clear the alert")
		}
		if len(m.history.Items()) != 1 {
			t.Errorf("expected one history item, got %d", len(m.history.Items()))
		}

		send(m, stateMsg(orchestrator.Done))
		if m.state != orchestrator.Done {
			t.Errorf("expected done, got %v", m.state)
		}

		send(m, overlayMsg("", false))
		if strings.Contains(m.View(), orchestrator.MessageFinalising) {
			t.Error("expected overlay hidden")
		}
	})

	t.Run("Submit Errors", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want string
		}{
			{"empty prompt", shared.ErrInvalidInput, "Describe the playlist"},
			{"busy", orchestrator.ErrBusy, orchestrator.ErrBusy.Error()},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				m := NewModel(ctx)
				send(m, submittedMsg(nil, tt.err))
				if !strings.Contains(m.alert, tt.want) {
					t.Errorf("expected alert containing %q, got %q", tt.want, m.alert)
				}
			})
		}
	})

	t.Run("History And Open", func(t *testing.T) {
		var opened []string
		m := NewModel(ctx)
		m.open = func(url string) error {
			opened = append(opened, url)
			return errors.New("no browser")
		}

		send(m, resultMsg(testResult))
		send(m, tea.KeyMsg{Type: tea.KeyTab})
		if m.view != HistoryView {
			t.Fatal("expected history view")
		}

		cmd := send(m, tea.KeyMsg{Type: tea.KeyEnter})
		if cmd == nil {
			t.Fatal("expected an open command")
		}
		send(m, cmd())
		if len(opened) != 1 || opened[0] != testResult.PlaylistURL {
			t.Errorf("unexpected opened urls %v", opened)
		}
		if !strings.Contains(m.alert, "no browser") {
			t.Errorf("expected open failure alert, got %q", m.alert)
		}

		send(m, tea.KeyMsg{Type: tea.KeyEsc})
		if m.view != PromptView {
			t.Error("expected prompt view")
		}
	})

	t.Run("Start", func(t *testing.T) {
		sub := &fakeSubmitter{}
		m := NewModel(ctx)
		m.Attach(sub)

		if msg := m.start()(); msg != nil {
			t.Errorf("expected nil message, got %v", msg)
		}
		if sub.started != 1 {
			t.Errorf("expected controller started once, got %d", sub.started)
		}
	})
}
