package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/aria/internal/authflow"
	"github.com/desertthunder/aria/internal/repositories"
	"github.com/desertthunder/aria/internal/server"
	"github.com/desertthunder/aria/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// newServer wires the backend on db. reporter receives the outcome of every OAuth callback.
func (r *Runner) newServer(db *sql.DB, reporter server.Reporter) (*http.Server, *server.OAuthHandler, error) {
	logger := shared.WithLogger(r.logger, "component", "server")

	signer, err := server.NewSigner(r.config.Server.SecretKey)
	if err != nil {
		return nil, nil, err
	}

	secure := strings.HasPrefix(r.config.Client.BaseURL, "https://")
	sessions := server.NewSessions(repositories.NewSessionRepository(db), signer, secure)

	app := server.NewApp(server.AppOpts{
		Sessions:  sessions,
		Signer:    signer,
		Services:  r.newService,
		Generator: r.engine(),
		Logger:    logger,
	})
	oauth := server.NewOAuthHandler(sessions, signer, r.newService, reporter, logger)

	var limiter *server.KeyedLimiter
	if r.config.Server.RateLimit > 0 {
		limiter = server.NewKeyedLimiter(r.config.Server.RateLimit, r.config.Server.RateBurst)
	}

	srv := &http.Server{
		Addr:              r.config.Server.Addr(),
		Handler:           server.NewRouter(app, oauth, limiter, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, oauth, nil
}

// Serve runs the backend until interrupted.
//
// A standalone backend shares outcomes with controllers only through the database,
// so the in-memory store is refused here.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if r.config.Client.Storage == "memory" {
		return fmt.Errorf("%w: client.storage = \"memory\" only works with an embedded backend; use \"sqlite\" for aria serve", shared.ErrInvalidConfig)
	}
	if err := r.config.Validate(); err != nil {
		return err
	}

	e, cleanup, err := r.openEnv(false)
	if err != nil {
		return err
	}
	defer cleanup()

	reporter := authflow.NewPopup(e.store, nil, r.config.Client.Origin, r.logger)
	srv, _, err := r.newServer(e.db, reporter)
	if err != nil {
		return err
	}

	if store, ok := e.store.(*repositories.StorageRepository); ok {
		go r.pruneLoop(ctx, store)
	}

	r.writePlain("aria backend listening on http://%s\n", srv.Addr)
	r.writePlain("Spotify callback: %s\n", r.config.Credentials.Spotify.CallbackURL())
	return server.Serve(ctx, srv, nil, shared.WithLogger(r.logger, "component", "server"))
}

// pruneLoop trims the storage change log while the backend runs.
func (r *Runner) pruneLoop(ctx context.Context, store *repositories.StorageRepository) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := store.Prune(time.Hour); err != nil {
				r.logger.Warn("Failed to prune storage log", "error", err)
			} else if n > 0 {
				r.logger.Debug("Pruned storage log", "entries", n)
			}
		}
	}
}

// withBackend runs fn against the configured backend.
//
// When embedded is set the backend is started in this process first and stopped once fn returns.
func (r *Runner) withBackend(ctx context.Context, embedded bool, fn func(context.Context, *env) error) error {
	e, cleanup, err := r.openEnv(embedded)
	if err != nil {
		return err
	}
	defer cleanup()

	if !embedded {
		return fn(ctx, e)
	}

	if err := r.config.Validate(); err != nil {
		return fmt.Errorf("embedded backend: %w", err)
	}

	reporter := authflow.NewPopup(e.store, e.bus, r.config.Client.Origin, r.logger)
	srv, oauth, err := r.newServer(e.db, reporter)
	if err != nil {
		return err
	}
	e.oauth = oauth

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("embedded backend: %w (is `aria serve` already running? pass --embedded=false)", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)

	g.Go(func() error {
		return server.Serve(runCtx, srv, ln, shared.WithLogger(r.logger, "component", "server"))
	})
	g.Go(func() error {
		defer stop()
		return fn(runCtx, e)
	})
	return g.Wait()
}
