package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/aria/internal/generation"
	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/shared"
)

// ErrBusy is returned when a submission is already running.
var ErrBusy = errors.New("a generation is already in progress")

// Authorizer waits for the user to approve Spotify access at authURL.
type Authorizer interface {
	Wait(ctx context.Context, authURL string) error
}

// Opts configures a [Controller].
type Opts struct {
	Backend    generation.Backend
	Authorizer Authorizer
	Presenter  Presenter
	Init       models.InitPayload
	Logger     *log.Logger

	// RotationInterval defaults to [DefaultRotationInterval].
	RotationInterval time.Duration
}

// Controller drives one page load through submit, authorization and generation.
type Controller struct {
	backend   generation.Backend
	resumer   *generation.Resumer
	auth      Authorizer
	presenter Presenter
	rotation  *rotation
	logger    *log.Logger

	mu    sync.Mutex
	state Context
	busy  bool
}

// New creates a [Controller] starting from opts.Init.
func New(opts Opts) *Controller {
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}

	c := &Controller{
		backend:   opts.Backend,
		resumer:   generation.NewResumer(opts.Backend, opts.Logger),
		auth:      opts.Authorizer,
		presenter: opts.Presenter,
		logger:    opts.Logger,
		state:     NewContext(opts.Init),
	}
	c.rotation = newRotation(opts.RotationInterval, c.presenter.SetOverlayMessage)
	return c
}

// Start renders the initial result, if any, then resumes a pending generation when one is due.
func (c *Controller) Start(ctx context.Context) {
	snap := c.Snapshot()
	if snap.Result != nil {
		c.presenter.ShowResult(*snap.Result)
	}
	c.presenter.StateChanged(snap.State)
	c.ResumeIfNeeded(ctx)
}

// Snapshot returns a copy of the controller's context.
func (c *Controller) Snapshot() Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.state
	if snap.Result != nil {
		r := *snap.Result
		snap.Result = &r
	}
	return snap
}

// LastResult returns the most recently shown result, or nil.
func (c *Controller) LastResult() *models.GenerationResult {
	return c.Snapshot().Result
}

func (c *Controller) update(fn func(Context) Context) {
	c.mu.Lock()
	prev := c.state.State
	c.state = fn(c.state)
	next := c.state.State
	c.mu.Unlock()

	if next != prev {
		c.logger.Debug("State changed", "from", prev, "to", next)
		c.presenter.StateChanged(next)
	}
}

func (c *Controller) setState(s State) {
	c.update(func(ctx Context) Context { return ctx.WithState(s) })
}

// showResult hands result to the presenter and records it.
func (c *Controller) showResult(result models.GenerationResult) {
	if strings.TrimSpace(result.PlaylistName) == "" {
		result.PlaylistName = DefaultPlaylistName
	}
	c.update(func(ctx Context) Context { return ctx.WithResult(result).WithoutPrompt() })
	c.presenter.ShowResult(result)
}

func (c *Controller) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return false
	}
	c.busy = true
	return true
}

func (c *Controller) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// showOverlay shows message, cycling the loading steps when cycling is set.
func (c *Controller) showOverlay(message string, cycling bool) {
	c.rotation.Stop()
	c.presenter.ShowOverlay(message)
	if cycling {
		c.rotation.Start()
	}
}

func (c *Controller) teardown() {
	c.rotation.Stop()
	c.presenter.HideOverlay()
	c.presenter.UnlockButton(LabelDefault)
}

// Submit generates a playlist for prompt, authorizing with Spotify first when the backend asks for it.
//
// Every failure is reported through the presenter. The returned error is for callers that need an exit status.
func (c *Controller) Submit(ctx context.Context, prompt string) (*models.GenerationResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", shared.ErrInvalidInput)
	}
	if !c.acquire() {
		return nil, ErrBusy
	}
	defer c.release()

	c.resumer.MarkResumed()

	connected := c.Snapshot().Connected
	c.update(func(s Context) Context {
		s.PendingPrompt = prompt
		if connected {
			return s.WithState(Generating)
		}
		return s.WithState(AwaitingAuth)
	})

	if connected {
		c.presenter.LockButton(LabelGenerating)
		c.showOverlay(LoadingSteps[0], true)
	} else {
		c.presenter.LockButton(LabelConnect)
		c.showOverlay(MessageAuthPrompt, false)
	}
	defer c.teardown()

	result, err := c.backend.Generate(ctx, prompt)

	var authErr *generation.AuthRequiredError
	if errors.As(err, &authErr) {
		result, err = c.runAuthFlow(ctx, authErr.AuthURL, prompt)
	}

	if err != nil {
		return c.fail(ctx, err)
	}

	c.showResult(*result)
	return c.LastResult(), nil
}

func (c *Controller) runAuthFlow(ctx context.Context, authURL, prompt string) (*models.GenerationResult, error) {
	c.rotation.Stop()
	c.setState(AwaitingAuth)
	c.presenter.SetOverlayMessage(MessageAuthWait)
	c.presenter.SetButtonLabel(LabelAuthWait)

	if err := c.auth.Wait(ctx, authURL); err != nil {
		return nil, err
	}

	c.update(func(s Context) Context {
		s.Connected = true
		return s.WithState(Generating)
	})
	c.presenter.SetOverlayMessage(MessageFinalising)
	c.presenter.SetButtonLabel(LabelGenerating)

	return c.resumer.Immediate(ctx, prompt)
}

// fail translates err into a single notification.
func (c *Controller) fail(ctx context.Context, err error) (*models.GenerationResult, error) {
	c.logger.Error("Generation failed", "error", err)

	switch shared.CodeOf(err) {
	case shared.CodePopupClosed:
		c.presenter.Alert(AlertCancelled)
	case shared.CodeAuthError:
		c.presenter.Alert(shared.MessageOf(err, AlertAuthFailed))
	case shared.CodeNetwork:
		c.presenter.Alert(shared.MessageOf(err, AlertNetwork))
	case shared.CodeTimedOut:
		c.presenter.Alert(shared.MessageOf(err, AlertTimedOut))
	case shared.CodeRateLimited:
		c.presenter.Alert(shared.MessageOf(err, AlertRateLimited))
	case shared.CodeRejected:
		c.presenter.Alert(shared.MessageOf(err, AlertRejected))
	case shared.CodeNavigation:
		c.setState(Idle)
		return nil, err
	default:
		if fallback := c.backend.LatestResult(context.WithoutCancel(ctx)); fallback != nil {
			c.showResult(*fallback)
			c.presenter.Alert(AlertRecovered)
			return c.LastResult(), nil
		}
		c.presenter.Alert(AlertBroken)
	}

	c.setState(Failed)
	return nil, err
}

// ResumeIfNeeded finishes a generation left pending by a full-page authorization redirect.
//
// It runs at most once per controller, and never after a manual submit.
func (c *Controller) ResumeIfNeeded(ctx context.Context) {
	snap := c.Snapshot()
	init := models.InitPayload{Connected: snap.Connected, PendingPrompt: snap.PendingPrompt, Result: snap.Result}
	if !generation.ShouldResume(init.PendingPrompt, init.Connected, init.Result != nil) || c.resumer.Resumed() {
		return
	}
	if !c.acquire() {
		return
	}
	defer c.release()

	c.setState(Generating)
	c.presenter.LockButton(LabelGenerating)
	c.showOverlay(MessageFinalising, true)
	defer c.teardown()

	status, result, err := c.resumer.ResumeOnLoad(ctx, init)
	switch {
	case err != nil:
		c.logger.Error("Failed to resume pending generation", "error", err)
		if shared.CodeOf(err) == shared.CodeAuthError {
			c.presenter.Alert(shared.MessageOf(err, AlertResumeAuth))
		} else {
			c.presenter.Alert(AlertResumeFailed)
		}
		c.setState(Failed)
	case status == generation.ResumeNothingPending:
		c.update(func(s Context) Context { return s.WithoutPrompt().WithState(Idle) })
		c.presenter.ClearPrompt()
	case status == generation.ResumeFinished:
		if result != nil {
			c.showResult(*result)
		} else {
			c.update(func(s Context) Context { return s.WithoutPrompt().WithState(Done) })
		}
		c.presenter.ClearPrompt()
	default:
		c.setState(Idle)
	}
}
