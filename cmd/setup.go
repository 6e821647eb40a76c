package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/aria/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	config := r.config
	r.logger.Info("initializing database", "path", config.Database.Path)

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, config.Database)

	if cmd.Bool("rollback") {
		r.logger.Info("rolling back latest migration")
		if err := shared.RollbackMigration(db); err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
	} else if !cmd.Bool("status") {
		r.logger.Info("running database migrations")
		if err := shared.RunMigrations(db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	states, err := shared.MigrationStatus(db)
	if err != nil {
		return err
	}
	for _, s := range states {
		if s.AppliedAt != nil {
			r.writePlain("  ✓ %03d %s (%s)\n", s.Version, s.Name, s.AppliedAt.Format("2006-01-02 15:04"))
		} else {
			r.writePlain("  · %03d %s (pending)\n", s.Version, s.Name)
		}
	}

	r.logger.Infof("setup complete for database: %v", config.Database.Path)
	return nil
}

// SetupConfig writes a config file from the embedded template, filling in any credentials passed as flags.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")

	if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
		return fmt.Errorf("%w: config file already exists at %s (use --force to overwrite)", shared.ErrInvalidArgument, path)
	}

	config := shared.DefaultConfig()
	if v := cmd.String("client-id"); v != "" {
		config.Credentials.Spotify.ClientID = v
	}
	if v := cmd.String("client-secret"); v != "" {
		config.Credentials.Spotify.ClientSecret = v
	}
	if v := cmd.String("secret-key"); v != "" {
		config.Server.SecretKey = v
	} else {
		config.Server.SecretKey = shared.GenerateID()
	}

	if err := shared.SaveConfig(path, config); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", path)

	r.writePlain("✓ Wrote %s\n", path)
	if err := config.Validate(); err != nil {
		r.writePlain("Next: set SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET (or edit the file) and register\n")
		r.writePlain("  %s\n", config.Credentials.Spotify.CallbackURL())
		r.writePlain("as a redirect URI in the Spotify developer dashboard.\n")
	}
	return nil
}
