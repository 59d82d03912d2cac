package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/nbx/internal/shared"
	"github.com/desertthunder/nbx/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI runs a job manager in-process and monitors it with the interactive terminal UI.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/nbx-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	history, closeDB, err := r.openHistory(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	manager, err := r.newManager(history)
	if err != nil {
		return err
	}
	defer manager.Close()

	sub := manager.Subscribe()
	defer manager.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := ui.NewModel(ctx, manager, sub)
	p := tea.NewProgram(model, tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
