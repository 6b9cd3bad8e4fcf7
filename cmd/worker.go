package main

import (
	"context"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/postmate/internal/server"
	"github.com/desertthunder/postmate/internal/tasks"
)

// Worker runs due tasks on an interval until the context is cancelled.
func (r *Runner) Worker(ctx context.Context, cmd *cli.Command) error {
	poller, err := r.poller(cmd)
	if err != nil {
		return err
	}

	if !cmd.Bool("once") {
		return poller.Start(ctx)
	}

	result, err := poller.Tick(ctx)
	if err != nil {
		return err
	}
	r.writePlain("Due: %d, started: %d, skipped: %d\n", result.Due, result.Started, result.Skipped)
	r.writePlain("Completed: %d, failed: %d, errors: %d\n", result.Completed, result.Failed, result.Errors)
	return nil
}

// Serve runs the admin API, optionally with the poller alongside it.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.service()
	if err != nil {
		return err
	}

	addr := strings.TrimSpace(cmd.String("addr"))
	if addr == "" {
		addr = r.config.Server.Addr()
	}

	router := server.NewBasicRouter()
	router.Use(server.Recover(r.logger), server.Logging(r.logger))
	router.Handler(server.NewAPIHandler(svc, r.logger))
	srv := server.New(addr, router, r.logger)

	if !cmd.Bool("worker") {
		return srv.Start(ctx)
	}

	poller, err := r.poller(cmd)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return poller.Start(gctx) })
	return g.Wait()
}

func (r *Runner) poller(cmd *cli.Command) (*tasks.Poller, error) {
	if _, err := r.service(); err != nil {
		return nil, err
	}

	interval := r.config.Worker.PollInterval.Duration
	if cmd.IsSet("interval") {
		interval = cmd.Duration("interval")
	}
	concurrency := r.config.Worker.Concurrency
	if cmd.IsSet("concurrency") {
		concurrency = cmd.Int("concurrency")
	}

	return tasks.NewPoller(tasks.PollerOpts{
		Tasks:       r.tasks,
		Runner:      r.executor,
		Interval:    interval,
		Concurrency: concurrency,
		Logger:      r.logger,
	}), nil
}
