package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/aria/internal/authflow"
	"github.com/desertthunder/aria/internal/generation"
	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/shared"
)

const (
	testOrigin  = "http://127.0.0.1:3000"
	testAuthURL = "https://accounts.spotify.com/authorize?client_id=aria"
)

// recorder is a [Presenter] that records every call.
type recorder struct {
	mu      sync.Mutex
	events  []string
	alerts  []string
	results []models.GenerationResult
	states  []State
	locked  bool
	overlay bool
	label   string
	message string
	cleared int
}

func (r *recorder) log(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) LockButton(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked, r.label = true, label
	r.log("lock %s", label)
}

func (r *recorder) SetButtonLabel(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.label = label
	r.log("label %s", label)
}

func (r *recorder) UnlockButton(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked, r.label = false, label
	r.log("unlock %s", label)
}

func (r *recorder) ShowOverlay(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overlay, r.message = true, message
	r.log("overlay %s", message)
}

func (r *recorder) SetOverlayMessage(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.message = message
	r.log("message %s", message)
}

func (r *recorder) HideOverlay() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overlay = false
	r.log("hide")
}

func (r *recorder) ShowResult(result models.GenerationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	r.log("result %s", result.PlaylistName)
}

func (r *recorder) ClearPrompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
	r.log("clear")
}

func (r *recorder) Alert(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, message)
	r.log("alert %s", message)
}

func (r *recorder) StateChanged(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		events:  slices.Clone(r.events),
		alerts:  slices.Clone(r.alerts),
		results: slices.Clone(r.results),
		states:  slices.Clone(r.states),
		locked:  r.locked,
		overlay: r.overlay,
		label:   r.label,
		message: r.message,
		cleared: r.cleared,
	}
}

// scriptedBackend answers generate calls in order.
type scriptedBackend struct {
	mu       sync.Mutex
	answers  []answer
	prompts  []string
	finish   answer
	finishes atomic.Int32
	latest   *models.GenerationResult
}

type answer struct {
	result *models.GenerationResult
	err    error
}

func (b *scriptedBackend) Generate(ctx context.Context, prompt string) (*models.GenerationResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = append(b.prompts, prompt)
	if len(b.answers) == 0 {
		return nil, fmt.Errorf("unexpected generate call")
	}
	a := b.answers[0]
	b.answers = b.answers[1:]
	return a.result, a.err
}

func (b *scriptedBackend) FinishGeneration(ctx context.Context) (*models.GenerationResult, error) {
	b.finishes.Add(1)
	return b.finish.result, b.finish.err
}

func (b *scriptedBackend) LatestResult(ctx context.Context) *models.GenerationResult {
	return b.latest
}

func (b *scriptedBackend) calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.prompts)
}

// stubAuthorizer returns err from every Wait.
type stubAuthorizer struct {
	err   error
	calls atomic.Int32
}

func (a *stubAuthorizer) Wait(ctx context.Context, authURL string) error {
	a.calls.Add(1)
	return a.err
}

var lofi = &models.GenerationResult{
	PlaylistName: "Lofi Study Mix",
	PlaylistURL:  "https://open.spotify.com/playlist/lofi",
	Summary:      "Soft beats for long sessions.",
}

func authRequired() answer {
	return answer{err: &generation.AuthRequiredError{AuthURL: testAuthURL}}
}

// popupWindow is an auth window driven by the test.
type popupWindow struct {
	closed atomic.Bool
}

func (w *popupWindow) Closed() bool { return w.closed.Load() }
func (w *popupWindow) Close() error { w.closed.Store(true); return nil }

// popupOpener opens a [popupWindow] and hands it to onOpen on a new goroutine.
type popupOpener struct {
	onOpen  func(*popupWindow)
	focused atomic.Int32
	opened  atomic.Int32
}

func (o *popupOpener) Open(url string) authflow.Window {
	o.opened.Add(1)
	win := &popupWindow{}
	go o.onOpen(win)
	return win
}

func (o *popupOpener) Navigate(url string) error { return nil }
func (o *popupOpener) Focus()                    { o.focused.Add(1) }

func newWaiter(store authflow.Store, bus authflow.Bus, opener authflow.Opener) *authflow.Waiter {
	return authflow.NewWaiter(authflow.WaiterOpts{
		Store:        store,
		Bus:          bus,
		Opener:       opener,
		Origin:       testOrigin,
		PollInterval: 5 * time.Millisecond,
	})
}

func TestContext(t *testing.T) {
	t.Run("From Init", func(t *testing.T) {
		c := NewContext(models.InitPayload{Connected: true, PendingPrompt: "x"})
		if c.State != Idle || !c.Connected || c.PendingPrompt != "x" || c.Result != nil {
			t.Errorf("unexpected context %+v", c)
		}

		c = NewContext(models.InitPayload{Result: lofi})
		if c.State != Done || c.Result == lofi || c.Result.PlaylistName != lofi.PlaylistName {
			t.Errorf("expected copied result in Done state, got %+v", c)
		}
	})

	t.Run("Transitions Do Not Mutate", func(t *testing.T) {
		c := NewContext(models.InitPayload{PendingPrompt: "x"})
		next := c.WithResult(*lofi).WithoutPrompt()

		if c.State != Idle || c.PendingPrompt != "x" || c.Result != nil {
			t.Errorf("original context changed: %+v", c)
		}
		if next.State != Done || !next.Connected || next.PendingPrompt != "" {
			t.Errorf("unexpected next context %+v", next)
		}
	})

	t.Run("State Names", func(t *testing.T) {
		for s, want := range map[State]string{Idle: "idle", AwaitingAuth: "awaiting_auth", Generating: "generating", Done: "done", Failed: "failed", State(9): ""} {
			if s.String() != want {
				t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
			}
		}
	})
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("Connected", func(t *testing.T) {
		backend := &scriptedBackend{answers: []answer{{result: lofi}}}
		presenter := &recorder{}
		c := New(Opts{Backend: backend, Authorizer: &stubAuthorizer{}, Presenter: presenter, Init: models.InitPayload{Connected: true}})

		result, err := c.Submit(ctx, "  lofi beats for studying ")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.PlaylistName != "Lofi Study Mix" {
			t.Errorf("unexpected result %+v", result)
		}

		got := presenter.snapshot()
		want := []string{
			"lock " + LabelGenerating,
			"overlay " + LoadingSteps[0],
			"result Lofi Study Mix",
			"hide",
			"unlock " + LabelDefault,
		}
		if !slices.Equal(got.events, want) {
			t.Errorf("events = %q, want %q", got.events, want)
		}
		if !slices.Equal(got.states, []State{Generating, Done}) {
			t.Errorf("unexpected states %v", got.states)
		}
		if calls := backend.calls(); len(calls) != 1 || calls[0] != "lofi beats for studying" {
			t.Errorf("unexpected generate calls %q", calls)
		}
	})

	t.Run("Not Connected Shows Auth Prompt", func(t *testing.T) {
		presenter := &recorder{}
		c := New(Opts{Backend: &scriptedBackend{answers: []answer{{result: lofi}}}, Authorizer: &stubAuthorizer{}, Presenter: presenter})

		if _, err := c.Submit(ctx, "x"); err != nil {
			t.Fatal(err)
		}
		got := presenter.snapshot()
		if got.events[0] != "lock "+LabelConnect || got.events[1] != "overlay "+MessageAuthPrompt {
			t.Errorf("unexpected opening events %q", got.events[:2])
		}
		if !c.Snapshot().Connected {
			t.Error("a result implies a Spotify connection")
		}
	})

	t.Run("Empty Prompt", func(t *testing.T) {
		backend := &scriptedBackend{}
		presenter := &recorder{}
		c := New(Opts{Backend: backend, Presenter: presenter})

		if _, err := c.Submit(ctx, "   "); err == nil {
			t.Error("expected error for empty prompt")
		}
		if len(backend.calls()) != 0 || len(presenter.snapshot().events) != 0 {
			t.Error("empty prompt must not touch the backend or the presenter")
		}
	})

	t.Run("Failures", func(t *testing.T) {
		tests := []struct {
			name      string
			answers   []answer
			authErr   error
			latest    *models.GenerationResult
			wantAlert string
			wantState State
		}{
			{
				name:      "popup closed",
				answers:   []answer{authRequired()},
				authErr:   shared.NewFlowError(shared.CodePopupClosed, "Authentication window closed before approval."),
				wantAlert: AlertCancelled,
				wantState: Failed,
			},
			{
				name:      "context cancelled counts as closed",
				answers:   []answer{authRequired()},
				authErr:   context.Canceled,
				wantAlert: AlertCancelled,
				wantState: Failed,
			},
			{
				name:      "auth error with message",
				answers:   []answer{authRequired()},
				authErr:   shared.NewFlowError(shared.CodeAuthError, "access_denied"),
				wantAlert: "access_denied",
				wantState: Failed,
			},
			{
				name:      "auth error without message",
				answers:   []answer{authRequired()},
				authErr:   shared.NewFlowError(shared.CodeAuthError, ""),
				wantAlert: AlertAuthFailed,
				wantState: Failed,
			},
			{
				name:      "unauthorized without auth url",
				answers:   []answer{{err: shared.NewFlowError(shared.CodeAuthError, "Spotify connection required.")}},
				wantAlert: "Spotify connection required.",
				wantState: Failed,
			},
			{
				name:      "network",
				answers:   []answer{{err: shared.NewFlowError(shared.CodeNetwork, "Connection lost during generation.")}},
				wantAlert: "Connection lost during generation.",
				wantState: Failed,
			},
			{
				name:      "timed out",
				answers:   []answer{authRequired()},
				authErr:   shared.NewFlowError(shared.CodeTimedOut, ""),
				wantAlert: AlertTimedOut,
				wantState: Failed,
			},
			{
				name:      "navigation is silent",
				answers:   []answer{authRequired()},
				authErr:   shared.NewFlowError(shared.CodeNavigation, "Redirecting to Spotify."),
				wantState: Idle,
			},
			{
				name:      "unknown recovers latest result",
				answers:   []answer{{err: shared.NewFlowError(shared.CodeUnknown, "Server error")}},
				latest:    lofi,
				wantAlert: AlertRecovered,
				wantState: Done,
			},
			{
				name:      "rate limited skips latest result",
				answers:   []answer{{err: shared.NewFlowError(shared.CodeRateLimited, "")}},
				latest:    lofi,
				wantAlert: AlertRateLimited,
				wantState: Failed,
			},
			{
				name:      "rejected request skips latest result",
				answers:   []answer{{err: shared.NewFlowError(shared.CodeRejected, "prompt too long")}},
				latest:    lofi,
				wantAlert: "prompt too long",
				wantState: Failed,
			},
			{
				name:      "unknown without fallback",
				answers:   []answer{{err: fmt.Errorf("boom")}},
				wantAlert: AlertBroken,
				wantState: Failed,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				backend := &scriptedBackend{answers: tt.answers, latest: tt.latest}
				presenter := &recorder{}
				c := New(Opts{Backend: backend, Authorizer: &stubAuthorizer{err: tt.authErr}, Presenter: presenter})

				c.Submit(ctx, "lofi beats for studying")

				got := presenter.snapshot()
				if tt.wantAlert == "" && len(got.alerts) != 0 {
					t.Errorf("expected no alert, got %q", got.alerts)
				}
				if tt.wantAlert != "" && (len(got.alerts) != 1 || got.alerts[0] != tt.wantAlert) {
					t.Errorf("alerts = %q, want %q", got.alerts, tt.wantAlert)
				}
				if got.overlay || got.locked || got.label != LabelDefault {
					t.Errorf("overlay and button must be reset, got overlay=%v locked=%v label=%q", got.overlay, got.locked, got.label)
				}
				if state := c.Snapshot().State; state != tt.wantState {
					t.Errorf("state = %s, want %s", state, tt.wantState)
				}
				if len(backend.calls()) != 1 {
					t.Errorf("expected a single generate call, got %d", len(backend.calls()))
				}
			})
		}
	})

	t.Run("Busy", func(t *testing.T) {
		release := make(chan struct{})
		auth := &blockingAuthorizer{release: release, entered: make(chan struct{})}
		c := New(Opts{Backend: &scriptedBackend{answers: []answer{authRequired(), {result: lofi}}}, Authorizer: auth, Presenter: &recorder{}})

		done := make(chan error, 1)
		go func() {
			_, err := c.Submit(ctx, "first")
			done <- err
		}()
		<-auth.entered

		if _, err := c.Submit(ctx, "second"); err != ErrBusy {
			t.Errorf("expected ErrBusy, got %v", err)
		}
		close(release)
		if err := <-done; err != nil {
			t.Errorf("first submit failed: %v", err)
		}
	})
}

type blockingAuthorizer struct {
	entered chan struct{}
	release chan struct{}
}

func (a *blockingAuthorizer) Wait(ctx context.Context, authURL string) error {
	close(a.entered)
	<-a.release
	return nil
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()

	t.Run("Popup Approves And Prompt Is Resubmitted", func(t *testing.T) {
		store, bus := authflow.NewMemoryStore(), authflow.NewMemoryBus()
		popup := authflow.NewPopup(store, bus, testOrigin, nil)
		opener := &popupOpener{onOpen: func(*popupWindow) { popup.Report(nil) }}

		backend := &scriptedBackend{answers: []answer{authRequired(), {result: lofi}}}
		presenter := &recorder{}
		c := New(Opts{Backend: backend, Authorizer: newWaiter(store, bus, opener), Presenter: presenter})

		result, err := c.Submit(ctx, "lofi beats for studying")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		calls := backend.calls()
		if len(calls) != 2 || calls[0] != calls[1] {
			t.Errorf("expected the same prompt submitted twice, got %q", calls)
		}
		if result.PlaylistName != "Lofi Study Mix" || !result.HasLink() {
			t.Errorf("unexpected result %+v", result)
		}

		got := presenter.snapshot()
		if len(got.results) != 1 || got.results[0].PlaylistURL == "" {
			t.Errorf("result card should show the playlist with a link, got %+v", got.results)
		}
		if !slices.Contains(got.events, "message "+MessageAuthWait) || !slices.Contains(got.events, "label "+LabelAuthWait) {
			t.Errorf("expected auth wait affordances, got %q", got.events)
		}
		if !slices.Contains(got.events, "message "+MessageFinalising) {
			t.Errorf("expected finalising message, got %q", got.events)
		}
		if !slices.Equal(got.states, []State{AwaitingAuth, Generating, Done}) {
			t.Errorf("unexpected states %v", got.states)
		}
		if opener.focused.Load() != 1 {
			t.Error("expected the controller to be refocused")
		}
		if _, ok, _ := store.Get(authflow.PendingKey); ok {
			t.Error("pending marker should be cleared")
		}
	})

	t.Run("Popup Closed Without A Signal", func(t *testing.T) {
		store, bus := authflow.NewMemoryStore(), authflow.NewMemoryBus()
		opener := &popupOpener{onOpen: func(w *popupWindow) { w.Close() }}

		backend := &scriptedBackend{answers: []answer{authRequired()}}
		presenter := &recorder{}
		c := New(Opts{Backend: backend, Authorizer: newWaiter(store, bus, opener), Presenter: presenter})

		if _, err := c.Submit(ctx, "lofi beats for studying"); shared.CodeOf(err) != shared.CodePopupClosed {
			t.Errorf("expected popup_closed, got %v", err)
		}

		got := presenter.snapshot()
		if len(got.alerts) != 1 || got.alerts[0] != AlertCancelled {
			t.Errorf("expected cancelled alert, got %q", got.alerts)
		}
		if got.overlay || got.locked {
			t.Error("overlay hidden and button re-enabled")
		}
		if len(backend.calls()) != 1 {
			t.Errorf("no second generate call expected, got %d", len(backend.calls()))
		}
	})

	t.Run("Reload Finds Nothing Pending", func(t *testing.T) {
		backend := &scriptedBackend{finish: answer{err: shared.NewFlowError(shared.CodeFinishFailed, "").WithReason(shared.ReasonNoPrompt)}}
		presenter := &recorder{}
		c := New(Opts{Backend: backend, Presenter: presenter, Init: models.InitPayload{Connected: true, PendingPrompt: "road trip rock"}})

		c.Start(ctx)

		got := presenter.snapshot()
		if backend.finishes.Load() != 1 {
			t.Errorf("expected one finish call, got %d", backend.finishes.Load())
		}
		if len(got.alerts) != 0 {
			t.Errorf("expected no alert, got %q", got.alerts)
		}
		if got.cleared != 1 || c.Snapshot().PendingPrompt != "" {
			t.Error("pending prompt should be cleared")
		}
		if got.label != LabelDefault || got.locked {
			t.Errorf("button should return to idle, got %q locked=%v", got.label, got.locked)
		}
		if c.Snapshot().State != Idle {
			t.Errorf("expected idle, got %s", c.Snapshot().State)
		}
	})

	t.Run("Reload Loses Authorization", func(t *testing.T) {
		backend := &scriptedBackend{finish: answer{err: shared.NewFlowError(shared.CodeAuthError, "Spotify connection required.").WithReason(shared.ReasonNoClient)}}
		presenter := &recorder{}
		c := New(Opts{Backend: backend, Presenter: presenter, Init: models.InitPayload{Connected: true, PendingPrompt: "road trip rock"}})

		c.Start(ctx)

		got := presenter.snapshot()
		if len(got.alerts) != 1 || got.alerts[0] != "Spotify connection required." {
			t.Errorf("expected auth alert, got %q", got.alerts)
		}
		if got.cleared != 0 || c.Snapshot().PendingPrompt != "road trip rock" {
			t.Error("pending prompt must be kept for a manual retry")
		}
		if c.Snapshot().State != Failed {
			t.Errorf("expected failed, got %s", c.Snapshot().State)
		}
	})

	t.Run("Round Trip", func(t *testing.T) {
		results := []models.GenerationResult{
			*lofi,
			{PlaylistName: "No Link"},
			{PlaylistName: "Summary Only", Summary: "Rainy day jazz."},
		}
		for _, want := range results {
			backend := &scriptedBackend{answers: []answer{{result: &want}}}
			c := New(Opts{Backend: backend, Presenter: &recorder{}, Init: models.InitPayload{Connected: true}})

			c.Submit(ctx, "x")
			got := c.LastResult()
			if got == nil || *got != want {
				t.Errorf("LastResult() = %+v, want %+v", got, want)
			}
		}
	})
}

func TestResumeIfNeeded(t *testing.T) {
	ctx := context.Background()
	pending := models.InitPayload{Connected: true, PendingPrompt: "road trip rock"}

	t.Run("Finishes And Shows Result", func(t *testing.T) {
		backend := &scriptedBackend{finish: answer{result: &models.GenerationResult{PlaylistName: "Road Trip Rock"}}}
		presenter := &recorder{}
		c := New(Opts{Backend: backend, Presenter: presenter, Init: pending})

		c.Start(ctx)
		c.ResumeIfNeeded(ctx)

		got := presenter.snapshot()
		if backend.finishes.Load() != 1 {
			t.Errorf("expected a single finish call, got %d", backend.finishes.Load())
		}
		if got.events[0] != "lock "+LabelGenerating || got.events[1] != "overlay "+MessageFinalising {
			t.Errorf("unexpected opening events %q", got.events)
		}
		if len(got.results) != 1 || got.results[0].PlaylistName != "Road Trip Rock" {
			t.Errorf("unexpected results %+v", got.results)
		}
		if c.Snapshot().State != Done {
			t.Errorf("expected done, got %s", c.Snapshot().State)
		}
	})

	t.Run("Generic Failure", func(t *testing.T) {
		backend := &scriptedBackend{finish: answer{err: shared.NewFlowError(shared.CodeUnknown, "Server error")}}
		presenter := &recorder{}
		c := New(Opts{Backend: backend, Presenter: presenter, Init: pending})

		c.ResumeIfNeeded(ctx)

		if alerts := presenter.snapshot().alerts; len(alerts) != 1 || alerts[0] != AlertResumeFailed {
			t.Errorf("unexpected alerts %q", alerts)
		}
	})

	t.Run("Initial Result Is Shown Without Resuming", func(t *testing.T) {
		backend := &scriptedBackend{}
		presenter := &recorder{}
		c := New(Opts{Backend: backend, Presenter: presenter, Init: models.InitPayload{Connected: true, PendingPrompt: "x", Result: lofi}})

		c.Start(ctx)

		if backend.finishes.Load() != 0 {
			t.Error("resume must not run when a result is already present")
		}
		if results := presenter.snapshot().results; len(results) != 1 {
			t.Errorf("expected the initial result to be shown, got %+v", results)
		}
	})

	t.Run("Submit Disarms Resume", func(t *testing.T) {
		backend := &scriptedBackend{answers: []answer{{err: shared.NewFlowError(shared.CodeNetwork, "")}}}
		c := New(Opts{Backend: backend, Presenter: &recorder{}, Init: pending})

		c.Submit(ctx, "another prompt")
		c.ResumeIfNeeded(ctx)

		if backend.finishes.Load() != 0 {
			t.Error("resume must not run after a manual submit")
		}
	})
}

func TestRotation(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	r := newRotation(2*time.Millisecond, func(s string) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	r.Start()
	if !r.Running() {
		t.Fatal("expected rotation to be running")
	}
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Stop()

	if r.Running() {
		t.Error("expected rotation to be stopped")
	}

	mu.Lock()
	count := len(seen)
	first := ""
	if count > 0 {
		first = seen[0]
	}
	mu.Unlock()

	if count < 2 {
		t.Fatalf("expected several rotations, got %d", count)
	}
	if first != LoadingSteps[1] {
		t.Errorf("rotation should continue after the first step, got %q", first)
	}

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != count {
		t.Error("no messages expected after Stop")
	}
	for _, s := range seen {
		if !slices.Contains(LoadingSteps, s) || strings.TrimSpace(s) == "" {
			t.Errorf("unexpected step %q", s)
		}
	}
}
