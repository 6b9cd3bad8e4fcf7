package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/platform"
	"github.com/desertthunder/postmate/internal/session"
	"github.com/desertthunder/postmate/internal/shared"
)

// TaskStore is the task persistence the executor advances tasks through.
type TaskStore interface {
	Get(ctx context.Context, id string) (*models.Task, error)
	Claim(ctx context.Context, id string) error
	Complete(ctx context.Context, id, mediaID string) error
	Fail(ctx context.Context, id, reason string) error
}

// Sessions hands out authenticated platform handles.
type Sessions interface {
	Acquire(ctx context.Context, accountID string) (*session.Handle, error)
}

// Outcome is the structured result of one [Executor.Run].
type Outcome struct {
	TaskID    string            `json:"task_id"`
	AccountID string            `json:"account_id"`
	Status    models.TaskStatus `json:"status"`
	MediaID   string            `json:"media_id,omitempty"`
	Message   string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Err       error             `json:"-"`
}

// ExecutorOpts configures an [Executor].
type ExecutorOpts struct {
	Tasks    TaskStore
	Sessions Sessions
	Limiter  *rate.Limiter // optional publish throttle shared by all runs
	Logger   *log.Logger
	Now      func() time.Time
}

// Executor advances a single task from pending to completed or failed.
type Executor struct {
	tasks    TaskStore
	sessions Sessions
	limiter  *rate.Limiter
	logger   *log.Logger
	now      func() time.Time
}

// NewExecutor creates an [Executor].
func NewExecutor(opts ExecutorOpts) *Executor {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{
		tasks:    opts.Tasks,
		sessions: opts.Sessions,
		limiter:  opts.Limiter,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// sendProgress sends a progress update through the channel without blocking.
func (e *Executor) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Run advances the task; see [Executor.RunWithProgress].
func (e *Executor) Run(ctx context.Context, taskID string) (*Outcome, error) {
	return e.RunWithProgress(ctx, taskID, nil)
}

// RunWithProgress claims a pending, due task, acquires its account's session and publishes the media.
//
// The returned error is non-nil only when the task could not be advanced at all: it is missing
// ([shared.ErrTaskNotFound]), not pending or lost the claim race ([shared.ErrInvalidState]),
// scheduled in the future ([shared.ErrNotDue]), or a status write failed. Session and publish
// failures end the task as failed and are reported through [Outcome.Err].
func (e *Executor) RunWithProgress(ctx context.Context, taskID string, progress chan<- ProgressUpdate) (*Outcome, error) {
	started := e.now()

	task, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	logger := shared.WithLogger(e.logger, "task", task.ID, "account", task.AccountID)

	if task.Status != models.StatusPending {
		e.sendProgress(progress, skippedUpdate(task, "task is "+string(task.Status)))
		return nil, fmt.Errorf("%w: task %s is %s", shared.ErrInvalidState, task.ID, task.Status)
	}
	if !task.IsDue(e.now()) {
		e.sendProgress(progress, skippedUpdate(task, "task is scheduled for later"))
		return nil, fmt.Errorf("%w: task %s is scheduled for %s", shared.ErrNotDue, task.ID, task.ScheduledTime.Format(time.RFC3339))
	}

	if err := e.tasks.Claim(ctx, task.ID); err != nil {
		return nil, err
	}
	logger.Info("task claimed", "kind", task.Kind)
	e.sendProgress(progress, claimedUpdate(task))

	outcome := &Outcome{TaskID: task.ID, AccountID: task.AccountID, Status: models.StatusProcessing}
	finish := func() (*Outcome, error) {
		outcome.Duration = e.now().Sub(started)
		return outcome, nil
	}

	// Terminal writes must land even when the caller gives up mid-run.
	store := context.WithoutCancel(ctx)

	e.sendProgress(progress, sessionUpdate(task))
	handle, err := e.sessions.Acquire(ctx, task.AccountID)
	if err != nil {
		logger.Warn("session unavailable", "error", err)
		if ferr := e.fail(store, task, outcome, err.Error(), err); ferr != nil {
			return nil, ferr
		}
		e.sendProgress(progress, failedUpdate(task, 2, outcome.Message))
		return finish()
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			reason := fmt.Sprintf("publish cancelled: %v", err)
			if ferr := e.fail(store, task, outcome, reason, err); ferr != nil {
				return nil, ferr
			}
			e.sendProgress(progress, failedUpdate(task, 3, reason))
			return finish()
		}
	}

	e.sendProgress(progress, publishingUpdate(task, handle.Username))
	mediaID, err := handle.Client.Publish(ctx, platform.PublishRequest{
		Kind:    task.Kind,
		Paths:   task.MediaItems(),
		Caption: task.Caption,
	})
	if err != nil {
		logger.Error("publish failed", "error", err)
		if ferr := e.fail(store, task, outcome, err.Error(), fmt.Errorf("%w: %w", shared.ErrPublishFailed, err)); ferr != nil {
			return nil, ferr
		}
		e.sendProgress(progress, failedUpdate(task, 3, outcome.Message))
		return finish()
	}

	if err := e.tasks.Complete(store, task.ID, mediaID); err != nil {
		logger.Error("published but failed to record completion", "media_id", mediaID, "error", err)
		return nil, fmt.Errorf("task %s published as %s but completion was not recorded: %w", task.ID, mediaID, err)
	}

	outcome.Status = models.StatusCompleted
	outcome.MediaID = mediaID
	logger.Info("task completed", "media_id", mediaID)
	e.sendProgress(progress, completedUpdate(task, mediaID))
	return finish()
}

func (e *Executor) fail(ctx context.Context, task *models.Task, outcome *Outcome, reason string, cause error) error {
	if err := e.tasks.Fail(ctx, task.ID, reason); err != nil {
		e.logger.Error("failed to record task failure", "task", task.ID, "reason", reason, "error", err)
		return errors.Join(cause, err)
	}
	outcome.Status = models.StatusFailed
	outcome.Message = reason
	outcome.Err = cause
	return nil
}
