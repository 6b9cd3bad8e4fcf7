package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/shared"
)

// DueLister finds pending tasks whose scheduled time has passed.
type DueLister interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Task, error)
}

// Runner advances one task.
type Runner interface {
	Run(ctx context.Context, taskID string) (*Outcome, error)
}

// PollerOpts configures a [Poller].
type PollerOpts struct {
	Tasks       DueLister
	Runner      Runner
	Interval    time.Duration // default: 30s
	Concurrency int           // default: 2
	BatchSize   int           // default: 50
	Logger      *log.Logger
	Now         func() time.Time
}

// TickResult summarizes one scan.
type TickResult struct {
	Due       int
	Started   int
	Skipped   int // account already had a task in flight
	Completed int
	Failed    int
	Errors    int // task could not be advanced
}

// Poller periodically runs due tasks with bounded concurrency.
//
// At most one task per account is in flight at any time within the process.
type Poller struct {
	tasks       DueLister
	runner      Runner
	interval    time.Duration
	concurrency int
	batchSize   int
	logger      *log.Logger
	now         func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewPoller creates a [Poller].
func NewPoller(opts PollerOpts) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Poller{
		tasks:       opts.Tasks,
		runner:      opts.Runner,
		interval:    opts.Interval,
		concurrency: opts.Concurrency,
		batchSize:   opts.BatchSize,
		logger:      opts.Logger,
		now:         opts.Now,
		inflight:    make(map[string]struct{}),
	}
}

// Start scans immediately and then on every interval until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("poller started", "interval", p.interval, "concurrency", p.concurrency)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		result, err := p.Tick(ctx)
		switch {
		case errors.Is(err, context.Canceled):
		case err != nil:
			p.logger.Error("scan failed", "error", err)
		case result.Started > 0 || result.Skipped > 0:
			p.logger.Info("scan finished",
				"due", result.Due, "started", result.Started, "skipped", result.Skipped,
				"completed", result.Completed, "failed", result.Failed, "errors", result.Errors)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one scan and waits for every task it started.
func (p *Poller) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult

	due, err := p.tasks.ListDue(ctx, p.now(), p.batchSize)
	if err != nil {
		return result, err
	}
	result.Due = len(due)

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(p.concurrency)

	for _, task := range due {
		if ctx.Err() != nil {
			break
		}
		if !p.reserve(task.AccountID) {
			result.Skipped++
			continue
		}
		result.Started++

		g.Go(func() error {
			defer p.release(task.AccountID)

			outcome, err := p.runner.Run(ctx, task.ID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Errors++
				p.logger.Warn("task not advanced", "task", task.ID, "error", err)
			case outcome.Status == models.StatusCompleted:
				result.Completed++
			default:
				result.Failed++
			}
			return nil
		})
	}

	_ = g.Wait()
	return result, ctx.Err()
}

// reserve marks the account busy, reporting false when it already is.
func (p *Poller) reserve(accountID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[accountID]; busy {
		return false
	}
	p.inflight[accountID] = struct{}{}
	return true
}

func (p *Poller) release(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, accountID)
}
