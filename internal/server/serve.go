package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/aria/internal/generation"
	"github.com/desertthunder/aria/internal/shared"
)

const shutdownTimeout = 5 * time.Second

// NewRouter builds the backend's router: the [App] endpoints plus the OAuth callback.
//
// When limiter is set, generate requests are limited per session.
func NewRouter(app *App, oauth *OAuthHandler, limiter *KeyedLimiter, logger *log.Logger) *BasicRouter {
	if logger == nil {
		logger = shared.DiscardLogger()
	}

	r := NewBasicRouter()
	r.Use(Recover(logger), Logging(logger))
	if limiter != nil {
		r.Use(RateLimit(limiter, app.sessions.SessionID, generation.GeneratePath))
	}

	app.Register(r)
	r.Handler(oauth)
	logger.Debug("Routes registered", "routes", r.Routes())
	return r
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
//
// A nil ln makes srv listen on its own Addr.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, logger *log.Logger) error {
	if logger == nil {
		logger = shared.DiscardLogger()
	}

	errCh := make(chan error, 1)
	go func() {
		if ln == nil {
			logger.Info("Listening", "addr", srv.Addr)
			errCh <- srv.ListenAndServe()
			return
		}
		logger.Info("Listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
