package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/aria/internal/formatter"
	"github.com/desertthunder/aria/internal/generation"
	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/orchestrator"
	"github.com/desertthunder/aria/internal/shared"
	"github.com/desertthunder/aria/internal/ui"
	"github.com/urfave/cli/v3"
)

var errResumeFailed = errors.New("failed to finish pending generation")

// Generate submits a prompt, connecting Spotify first when needed.
func (r *Runner) Generate(ctx context.Context, cmd *cli.Command) error {
	prompt := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if prompt == "" {
		return fmt.Errorf("%w: prompt", shared.ErrMissingArgument)
	}

	format, output := cmd.String("format"), cmd.String("output")
	if err := checkFormat(format); err != nil {
		return err
	}

	embedded := cmd.Bool("embedded")
	timeout := r.authTimeout(cmd)

	return r.withBackend(ctx, embedded, func(ctx context.Context, e *env) error {
		client, saveCookie := r.backendClient(e.store)
		defer saveCookie()

		console := ui.NewConsole(r.output)
		ctrl, err := r.controller(ctx, client, e, console, r.output, timeout)
		if err != nil {
			return err
		}

		result, err := ctrl.Submit(ctx, prompt)
		if shared.CodeOf(err) == shared.CodeNavigation {
			if !embedded {
				return nil
			}
			saveCookie()
			result, err = r.awaitRedirect(ctx, e, client, console, timeout)
		}
		if err != nil {
			return fmt.Errorf("generation failed: %w", err)
		}
		if result == nil {
			return nil
		}
		return r.writeResult(result, format, output)
	})
}

// awaitRedirect waits for the callback of a full-page authorization, then reloads
// with a fresh controller that finishes the pending prompt.
func (r *Runner) awaitRedirect(ctx context.Context, e *env, client *generation.Client, console *ui.Console, timeout time.Duration) (*models.GenerationResult, error) {
	r.writePlain("Waiting for Spotify approval...\n")

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case res := <-e.oauth.Results():
		if err := res.Error(); err != nil {
			return nil, shared.NewFlowError(shared.CodeAuthError, orchestrator.AlertAuthFailed).Wrap(err)
		}
	case <-waitCtx.Done():
		return nil, shared.NewFlowError(shared.CodeTimedOut, orchestrator.AlertTimedOut).Wrap(waitCtx.Err())
	}

	result, _, err := r.resume(ctx, e, client, console)
	return result, err
}

// resume loads the backend state and finishes a pending prompt when one is due.
// It reports whether anything was pending.
func (r *Runner) resume(ctx context.Context, e *env, client *generation.Client, console *ui.Console) (*models.GenerationResult, bool, error) {
	ctrl, err := r.controller(ctx, client, e, console, r.output, 0)
	if err != nil {
		return nil, false, err
	}

	before := ctrl.Snapshot()
	if !generation.ShouldResume(before.PendingPrompt, before.Connected, before.Result != nil) {
		ctrl.Start(ctx)
		return nil, false, nil
	}

	ctrl.Start(ctx)
	after := ctrl.Snapshot()
	if after.State == orchestrator.Failed {
		return nil, true, errResumeFailed
	}
	return after.Result, true, nil
}

// Resume finishes a generation left pending by a redirect authorization.
func (r *Runner) Resume(ctx context.Context, cmd *cli.Command) error {
	format, output := cmd.String("format"), cmd.String("output")
	if err := checkFormat(format); err != nil {
		return err
	}

	return r.withBackend(ctx, cmd.Bool("embedded"), func(ctx context.Context, e *env) error {
		client, saveCookie := r.backendClient(e.store)
		defer saveCookie()

		result, pending, err := r.resume(ctx, e, client, ui.NewConsole(r.output))
		switch {
		case err != nil:
			return err
		case !pending:
			return r.writePlain("Nothing to resume.\n")
		case result == nil:
			return r.writePlain("The backend had no prompt left to finish.\n")
		}
		return r.writeResult(result, format, output)
	})
}

// Status prints the backend's view of this session.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	return r.withBackend(ctx, cmd.Bool("embedded"), func(ctx context.Context, e *env) error {
		client, saveCookie := r.backendClient(e.store)
		defer saveCookie()

		payload, err := client.Init(ctx)
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return r.writeJSON(payload, cmd.Bool("pretty"))
		}
		return r.writePlain("%s", formatter.Status(payload))
	})
}

func checkFormat(format string) error {
	_, err := formatter.Render(&models.GenerationResult{}, format)
	return err
}

// writeResult saves result to path, or prints it when a non-text format is asked for.
// The console has already shown the text card.
func (r *Runner) writeResult(result *models.GenerationResult, format, path string) error {
	if path != "" {
		if err := formatter.WriteResult(result, format, path); err != nil {
			return err
		}
		return r.writePlain("✓ Saved playlist to %s\n", path)
	}
	switch strings.ToLower(format) {
	case "", formatter.FormatText, "txt":
		return nil
	}

	data, err := formatter.Render(result, format)
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", strings.TrimRight(string(data), "\n"))
}
