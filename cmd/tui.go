package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/postmate/internal/shared"
	"github.com/desertthunder/postmate/internal/ui"
)

// TUI launches the interactive dashboard over accounts, tasks and proxies.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	path := r.config.Log.File
	if path == "" {
		path = "./tmp/postmate-tui.log"
	}

	// Logs go to a file so they do not tear the rendered screen; this must
	// happen before the services are opened so they pick the logger up.
	fileLogger, err := shared.NewFileLogger(path)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	fileLogger.SetLevel(r.logger.GetLevel())
	r.SetLogger(fileLogger)

	svc, err := r.service()
	if err != nil {
		return err
	}

	model := ui.NewModel(ctx, svc, cmd.Duration("refresh"))
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
