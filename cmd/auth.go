package main

import (
	"context"
	"time"

	"github.com/desertthunder/aria/internal/authflow"
	"github.com/desertthunder/aria/internal/repositories"
	"github.com/urfave/cli/v3"
)

// AuthClear removes a stale pending authorization and its outcome record.
//
// With --logout the saved backend session cookie is dropped too, so the next run starts a fresh session.
func (r *Runner) AuthClear(ctx context.Context, cmd *cli.Command) error {
	e, cleanup, err := r.openEnv(false)
	if err != nil {
		return err
	}
	defer cleanup()

	markers := authflow.NewMarkers(e.store, r.logger)
	if session, ok := markers.Pending(); ok {
		r.logger.Info("Clearing pending authorization", "session", session.ID, "created_at", session.CreatedAt)
	}
	markers.ClearPending("")
	authflow.NewBroadcast(e.store, nil, r.config.Client.Origin, r.logger).Clear("")

	if cmd.Bool("logout") {
		if err := e.store.Remove(sessionCookieKey); err != nil {
			return err
		}
		r.writePlain("✓ Forgot the saved aria session\n")
	}

	if store, ok := e.store.(*repositories.StorageRepository); ok {
		if n, err := store.Prune(time.Hour); err != nil {
			r.logger.Warn("Failed to prune storage log", "error", err)
		} else if n > 0 {
			r.logger.Debug("Pruned storage log", "entries", n)
		}
	}

	return r.writePlain("✓ Cleared pending Spotify authorization\n")
}
