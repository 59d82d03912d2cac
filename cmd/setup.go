package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/nbx/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup creates the config file from the embedded template when missing, the dump
// root, and the history database with migrations applied.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := r.configPath
	if configPath == "" {
		configPath = "config.toml"
	}

	if _, err := os.Stat(configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		} else {
			r.logger.Info("config file created", "path", configPath)
			if config, err := shared.LoadConfig(configPath); err != nil {
				r.logger.Warn("failed to load created config, using defaults", "error", err)
			} else {
				r.config = config
			}
		}
	}

	if err := os.MkdirAll(r.config.Storage.DumpRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create dump root: %w", err)
	}
	r.logger.Info("dump root ready", "path", r.config.Storage.DumpRoot)

	r.logger.Info("initializing database", "path", r.config.Database.Path)
	db, err := shared.OpenDatabase(ctx, r.config.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	if r.config.Notion.Token == "" {
		r.writePlain("Next: set notion.token in %s or export NOTION_TOKEN\n", configPath)
	}
	return nil
}
