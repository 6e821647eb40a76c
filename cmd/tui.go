package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/aria/internal/shared"
	"github.com/desertthunder/aria/internal/ui"
	"github.com/urfave/cli/v3"
)

// programWriter prints lines above a running program.
type programWriter struct {
	p *tea.Program
}

func (w programWriter) Write(b []byte) (int, error) {
	w.p.Println(strings.TrimRight(string(b), "\n"))
	return len(b), nil
}

// TUI launches the interactive prompt.
//
// The terminal belongs to the program, so logs go to a file.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	logPath := cmd.String("log-file")
	if logPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		logPath = filepath.Join(home, ".aria", "tui.log")
	}

	logger, err := shared.NewFileLogger(logPath)
	if err != nil {
		return err
	}
	shared.SetLogLevel(logger, r.logger.GetLevel())
	r.logger = logger

	return r.withBackend(ctx, cmd.Bool("embedded"), func(ctx context.Context, e *env) error {
		client, saveCookie := r.backendClient(e.store)
		defer saveCookie()

		model := ui.NewModel(ctx)
		p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())

		ctrl, err := r.controller(ctx, client, e, ui.NewProgramPresenter(p.Send), programWriter{p}, r.authTimeout(cmd))
		if err != nil {
			return err
		}
		model.Attach(ctrl)

		_, err = p.Run()
		return err
	})
}
