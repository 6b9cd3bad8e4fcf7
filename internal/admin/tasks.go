package admin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/shared"
	"github.com/desertthunder/postmate/internal/tasks"
)

// TaskInput carries the fields an operator supplies for a new task.
type TaskInput struct {
	Account     string     `json:"account"` // id or username
	Kind        string     `json:"kind"`
	Media       []string   `json:"media"`
	Caption     string     `json:"caption"`
	ScheduledAt *time.Time `json:"scheduled_time,omitempty"`
}

// TaskView is a task with its account's username.
type TaskView struct {
	*models.Task
	Username string `json:"username"`
}

// CreateTask validates the input and stores a pending task.
//
// Every media path must exist; relative paths are resolved against the media directory.
func (s *Service) CreateTask(ctx context.Context, in TaskInput) (*models.Task, error) {
	if strings.TrimSpace(in.Account) == "" {
		return nil, fmt.Errorf("%w: account", shared.ErrMissingArgument)
	}
	account, err := s.ResolveAccount(ctx, strings.TrimSpace(in.Account))
	if err != nil {
		return nil, err
	}

	kind, err := models.ParseTaskKind(in.Kind)
	if err != nil {
		return nil, err
	}

	paths, err := s.resolveMedia(in.Media)
	if err != nil {
		return nil, err
	}

	task := models.NewTask(account.ID, kind, in.Caption, paths...)
	if in.ScheduledAt != nil {
		at := in.ScheduledAt.UTC()
		task.ScheduledTime = &at
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	s.logger.Info("task created", "task", task.ID, "account", account.Username, "kind", kind)
	return task, nil
}

func (s *Service) resolveMedia(media []string) ([]string, error) {
	paths := make([]string, 0, len(media))
	for _, p := range media {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) && s.mediaDir != "" {
			if _, err := os.Stat(p); err != nil {
				p = filepath.Join(s.mediaDir, p)
			}
		}

		info, err := os.Stat(p)
		if err != nil {
			return nil, errorf(shared.ErrInvalidInput, "media %s: %v", p, err)
		}
		if info.IsDir() {
			return nil, errorf(shared.ErrInvalidInput, "media %s is a directory", p)
		}

		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve media path: %w", err)
		}
		paths = append(paths, abs)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: media", shared.ErrMissingArgument)
	}
	return paths, nil
}

// ListTasks returns tasks matching criteria with usernames attached.
func (s *Service) ListTasks(ctx context.Context, criteria map[string]any) ([]TaskView, error) {
	list, err := s.tasks.List(ctx, criteria)
	if err != nil {
		return nil, err
	}
	accounts, err := s.accounts.List(ctx, nil)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(accounts))
	for _, a := range accounts {
		names[a.ID] = a.Username
	}

	views := make([]TaskView, 0, len(list))
	for _, t := range list {
		views = append(views, TaskView{Task: t, Username: names[t.AccountID]})
	}
	return views, nil
}

// GetTask returns one task.
func (s *Service) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return s.tasks.Get(ctx, id)
}

// RunTask advances a task immediately, reporting progress on the optional channel.
func (s *Service) RunTask(ctx context.Context, id string, progress chan<- tasks.ProgressUpdate) (*tasks.Outcome, error) {
	return s.executor.RunWithProgress(ctx, id, progress)
}

// ResetTask moves a failed task back to pending.
func (s *Service) ResetTask(ctx context.Context, id string) error {
	if err := s.tasks.Reset(ctx, id); err != nil {
		return err
	}
	s.logger.Info("task reset", "task", id)
	return nil
}

// RescheduleTask changes when a pending task becomes due. A nil time makes it due immediately.
func (s *Service) RescheduleTask(ctx context.Context, id string, at *time.Time) (*models.Task, error) {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: task %s is %s", shared.ErrInvalidState, id, task.Status)
	}
	if at != nil {
		utc := at.UTC()
		at = &utc
	}
	task.ScheduledTime = at
	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask removes a task that is not being processed.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return err
	}
	if task.Status == models.StatusProcessing {
		return fmt.Errorf("%w: task %s is processing", shared.ErrInvalidState, id)
	}
	return s.tasks.Delete(ctx, id)
}
