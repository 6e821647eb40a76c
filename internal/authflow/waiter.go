package authflow

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/aria/internal/shared"
)

const (
	DefaultPollInterval = 600 * time.Millisecond

	redirectMessage     = "Redirecting to Spotify."
	popupClosedMessage  = "Authentication window closed before approval."
	authTimedOutMessage = "Timed out waiting for Spotify approval."
)

// Window is a handle on an opened authorization window.
type Window interface {
	Closed() bool
	Close() error
}

// Opener opens authorization windows for the controller.
type Opener interface {
	// Open returns nil when the window could not be opened.
	Open(url string) Window
	// Navigate replaces the current page with url.
	Navigate(url string) error
	// Focus brings the controller back to the foreground.
	Focus()
}

// WaiterOpts configures a [Waiter].
type WaiterOpts struct {
	Store  Store
	Bus    Bus
	Opener Opener
	Origin string
	Logger *log.Logger

	// PollInterval is how often the window's liveness is checked. Defaults to [DefaultPollInterval].
	PollInterval time.Duration
	// Timeout bounds the wait. Zero waits until a signal arrives or the window closes.
	Timeout time.Duration

	// NewID overrides session id generation.
	NewID func() string
}

// Waiter opens the authorization window and waits for its outcome.
type Waiter struct {
	markers   *Markers
	broadcast *Broadcast
	sources   []SignalSource
	opener    Opener
	logger    *log.Logger
	poll      time.Duration
	timeout   time.Duration
	newID     func() string
}

// NewWaiter creates a [Waiter] listening on the store and, when set, the bus.
func NewWaiter(opts WaiterOpts) *Waiter {
	opts.Logger = orDiscard(opts.Logger)
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.NewID == nil {
		opts.NewID = shared.GenerateID
	}

	sources := []SignalSource{NewStorageSource(opts.Store, opts.Logger)}
	if opts.Bus != nil {
		sources = append(sources, NewMessageSource(opts.Bus, opts.Origin, opts.Logger))
	}

	return &Waiter{
		markers:   NewMarkers(opts.Store, opts.Logger),
		broadcast: NewBroadcast(opts.Store, opts.Bus, opts.Origin, opts.Logger),
		sources:   sources,
		opener:    opts.Opener,
		logger:    opts.Logger,
		poll:      opts.PollInterval,
		timeout:   opts.Timeout,
		newID:     opts.NewID,
	}
}

// Wait opens authURL and blocks until the first completion signal.
//
// It returns nil on success. Failures are [shared.FlowError] values coded
// navigation, popup_closed, auth_error or timed_out. Whatever the result, the
// pending marker and outcome record for this session are cleared before returning.
func (w *Waiter) Wait(ctx context.Context, authURL string) error {
	session := Session{ID: w.newID(), CreatedAt: time.Now()}
	logger := w.logger.With("session", session.ID)

	w.broadcast.Clear("")
	w.markers.MarkPending(session.ID)
	defer func() {
		w.markers.ClearPending(session.ID)
		w.broadcast.Clear(session.ID)
	}()

	signals := make(chan Signal, len(w.sources))
	stops := make([]func(), 0, len(w.sources))
	for _, src := range w.sources {
		stops = append(stops, src.Listen(session.ID, signals))
	}
	defer func() {
		for _, stop := range stops {
			stop()
		}
	}()

	win := w.opener.Open(authURL)
	if win == nil {
		logger.Info("Authorization window blocked, redirecting")
		if err := w.opener.Navigate(authURL); err != nil {
			logger.Warn("Failed to redirect to Spotify", "error", err)
		}
		return shared.NewFlowError(shared.CodeNavigation, redirectMessage)
	}

	closeWin, err := w.await(ctx, win, signals)
	if closeWin && !win.Closed() {
		if cerr := win.Close(); cerr != nil {
			logger.Error("Failed to close the Spotify window", "error", cerr)
		}
	}
	if err == nil {
		w.opener.Focus()
		logger.Info("Spotify authorization approved")
	} else {
		logger.Info("Spotify authorization ended", "code", shared.CodeOf(err))
	}
	return err
}

// await runs the WaitingForSignal state. closeWin reports whether the window is still ours to close.
func (w *Waiter) await(ctx context.Context, win Window, signals <-chan Signal) (closeWin bool, err error) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if w.timeout > 0 {
		timer := time.NewTimer(w.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var guard latch
	for !guard.done() {
		select {
		case sig := <-signals:
			if !guard.settle() {
				continue
			}
			w.logger.Debug("Received auth signal", "source", sig.Source, "status", sig.Outcome.Status)
			if sig.Outcome.Status == StatusSuccess {
				return true, nil
			}
			msg := sig.Outcome.Error
			if msg == "" {
				msg = DefaultAuthErrorMessage
			}
			return true, shared.NewFlowError(shared.CodeAuthError, msg)
		case <-ticker.C:
			if win.Closed() && guard.settle() {
				return false, shared.NewFlowError(shared.CodePopupClosed, popupClosedMessage)
			}
		case <-deadline:
			if guard.settle() {
				return true, shared.NewFlowError(shared.CodeTimedOut, authTimedOutMessage)
			}
		case <-ctx.Done():
			if guard.settle() {
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return true, shared.NewFlowError(shared.CodeTimedOut, authTimedOutMessage).Wrap(ctx.Err())
				}
				return true, shared.NewFlowError(shared.CodePopupClosed, popupClosedMessage).Wrap(ctx.Err())
			}
		}
	}
	return false, nil
}

// Reset unconditionally clears any pending marker and outcome record.
func (w *Waiter) Reset() {
	w.markers.ClearPending("")
	w.broadcast.Clear("")
}
