// submodule cmd contains command definitions
package main

import (
	"strings"
	"time"

	"github.com/desertthunder/aria/internal/formatter"
	"github.com/urfave/cli/v3"
)

const defaultAuthTimeout = 10 * time.Minute

func embeddedFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "embedded",
		Usage: "Run the backend inside this process (use --embedded=false when `aria serve` is running)",
		Value: true,
	}
}

func resultFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Output format (" + strings.Join(formatter.Formats(), ", ") + ")",
			Value:   formatter.FormatText,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write the result to a file instead of stdout",
		},
	}
}

func timeoutFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:  "timeout",
		Usage: "How long to wait for Spotify approval (default client.auth_timeout)",
	}
}

// authTimeout prefers --timeout, then the config file.
func (r *Runner) authTimeout(cmd *cli.Command) time.Duration {
	if cmd.IsSet("timeout") {
		return cmd.Duration("timeout")
	}
	if r.config.Client.AuthTimeout > 0 {
		return r.config.Client.AuthTimeout
	}
	return defaultAuthTimeout
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create the config file and database",
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Write a config file from the built-in template",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "client-id", Usage: "Spotify client id"},
					&cli.StringFlag{Name: "client-secret", Usage: "Spotify client secret"},
					&cli.StringFlag{Name: "secret-key", Usage: "Session signing key (random when empty)"},
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
				},
				Action: r.SetupConfig,
			},
			{
				Name:  "database",
				Usage: "Initialize database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "status", Usage: "Only list migrations"},
					&cli.BoolFlag{Name: "rollback", Usage: "Roll back the latest migration"},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the aria backend",
		Action: r.Serve,
	}
}

func generateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Aliases:   []string{"gen"},
		Usage:     "Generate a Spotify playlist from a prompt",
		ArgsUsage: "<prompt>",
		Flags:     append(resultFlags(), embeddedFlag(), timeoutFlag()),
		Action:    r.Generate,
	}
}

func resumeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "resume",
		Usage:  "Finish a generation left pending by Spotify sign-in",
		Flags:  append(resultFlags(), embeddedFlag()),
		Action: r.Resume,
	}
}

func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the Spotify connection, pending prompt and last result",
		Flags: []cli.Flag{
			embeddedFlag(),
			&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
			&cli.BoolFlag{Name: "pretty", Usage: "Pretty-print output"},
		},
		Action: r.Status,
	}
}

func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Spotify authorization state",
		Commands: []*cli.Command{
			{
				Name:  "clear",
				Usage: "Clear a stale pending authorization",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "logout", Usage: "Also forget the saved backend session"},
				},
				Action: r.AuthClear,
			},
		},
	}
}

func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Launch the interactive prompt",
		Flags: []cli.Flag{
			embeddedFlag(),
			timeoutFlag(),
			&cli.StringFlag{Name: "log-file", Usage: "Log file path (default ~/.aria/tui.log)"},
		},
		Action: r.TUI,
	}
}
