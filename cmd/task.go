package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/postmate/internal/admin"
	"github.com/desertthunder/postmate/internal/formatter"
	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/shared"
	"github.com/desertthunder/postmate/internal/tasks"
)

// TaskCreate stores a pending publish task.
func (r *Runner) TaskCreate(ctx context.Context, cmd *cli.Command) error {
	at, err := parseSchedule(cmd.String("at"), time.Now())
	if err != nil {
		return err
	}

	svc, err := r.service()
	if err != nil {
		return err
	}
	task, err := svc.CreateTask(ctx, admin.TaskInput{
		Account:     cmd.String("account"),
		Kind:        cmd.String("kind"),
		Media:       cmd.StringSlice("media"),
		Caption:     cmd.String("caption"),
		ScheduledAt: at,
	})
	if err != nil {
		return err
	}

	when := "now"
	if task.ScheduledTime != nil {
		when = task.ScheduledTime.Local().Format("2006-01-02 15:04")
	}
	r.writePlain("✓ Task %s created (%s, %d media, due %s)\n", task.ID, task.Kind, len(task.MediaItems()), when)
	return nil
}

// TaskList prints tasks filtered by status and account.
func (r *Runner) TaskList(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.service()
	if err != nil {
		return err
	}

	criteria := map[string]any{}
	if status := strings.TrimSpace(cmd.String("status")); status != "" {
		criteria["status"] = status
	}
	if ref := strings.TrimSpace(cmd.String("account")); ref != "" {
		account, err := svc.ResolveAccount(ctx, ref)
		if err != nil {
			return err
		}
		criteria["account_id"] = account.ID
	}
	if limit := cmd.Int("limit"); limit > 0 {
		criteria["limit"] = limit
	}

	views, err := svc.ListTasks(ctx, criteria)
	if err != nil {
		return err
	}
	return r.render(cmd, views)
}

// TaskRun advances one pending task immediately and prints each step.
func (r *Runner) TaskRun(ctx context.Context, cmd *cli.Command) error {
	id, err := taskID(cmd)
	if err != nil {
		return err
	}
	svc, err := r.service()
	if err != nil {
		return err
	}

	asJSON := cmd.Bool("json")
	progressCh := make(chan tasks.ProgressUpdate, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progressCh {
			if asJSON {
				continue
			}
			r.writePlain("[%d/%d] %s\n", update.Step, update.Total, update.Message)
		}
	}()

	outcome, err := svc.RunTask(ctx, id, progressCh)
	close(progressCh)
	<-done

	if err != nil {
		return err
	}

	if asJSON {
		if err := r.writeJSON(outcome, true); err != nil {
			return err
		}
	} else {
		r.writePlain("\n")
		if _, err := r.output.Write(formatter.OutcomeToText(outcome)); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}

	if outcome.Status == models.StatusFailed {
		return fmt.Errorf("task %s failed: %w", outcome.TaskID, outcome.Err)
	}
	return nil
}

// TaskReset moves a failed task back to pending.
func (r *Runner) TaskReset(ctx context.Context, cmd *cli.Command) error {
	id, err := taskID(cmd)
	if err != nil {
		return err
	}
	svc, err := r.service()
	if err != nil {
		return err
	}
	if err := svc.ResetTask(ctx, id); err != nil {
		return err
	}
	r.writePlain("✓ Task %s is pending again\n", id)
	return nil
}

// TaskReschedule moves a pending task's due time.
func (r *Runner) TaskReschedule(ctx context.Context, cmd *cli.Command) error {
	id, err := taskID(cmd)
	if err != nil {
		return err
	}
	at, err := parseSchedule(cmd.String("at"), time.Now())
	if err != nil {
		return err
	}
	svc, err := r.service()
	if err != nil {
		return err
	}

	task, err := svc.RescheduleTask(ctx, id, at)
	if err != nil {
		return err
	}
	if task.ScheduledTime == nil {
		r.writePlain("✓ Task %s is due now\n", task.ID)
	} else {
		r.writePlain("✓ Task %s is due %s\n", task.ID, task.ScheduledTime.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

// TaskDelete removes a task.
func (r *Runner) TaskDelete(ctx context.Context, cmd *cli.Command) error {
	id, err := taskID(cmd)
	if err != nil {
		return err
	}
	svc, err := r.service()
	if err != nil {
		return err
	}
	if err := svc.DeleteTask(ctx, id); err != nil {
		return err
	}
	r.writePlain("✓ Deleted task %s\n", id)
	return nil
}

// TaskStats prints entity counts.
func (r *Runner) TaskStats(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.service()
	if err != nil {
		return err
	}
	stats, err := svc.Stats(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(stats, true)
	}
	r.writePlainHeader("Postmate")
	if _, err := r.output.Write(formatter.StatsToText(stats)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func taskID(cmd *cli.Command) (string, error) {
	id := strings.TrimSpace(cmd.StringArg("id"))
	if id == "" {
		return "", fmt.Errorf("%w: id", shared.ErrMissingArgument)
	}
	return id, nil
}

// parseSchedule accepts RFC 3339, "2006-01-02 15:04" in local time, or a
// "+duration" offset from now. An empty value means due immediately.
func parseSchedule(s string, now time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	if rest, ok := strings.CutPrefix(s, "+"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%w: --at %q", shared.ErrInvalidArgument, s)
		}
		at := now.Add(d)
		return &at, nil
	}

	if at, err := time.Parse(time.RFC3339, s); err == nil {
		return &at, nil
	}
	if at, err := time.ParseInLocation("2006-01-02 15:04", s, time.Local); err == nil {
		return &at, nil
	}
	return nil, fmt.Errorf("%w: --at %q (want RFC 3339, \"2006-01-02 15:04\" or +duration)", shared.ErrInvalidArgument, s)
}
