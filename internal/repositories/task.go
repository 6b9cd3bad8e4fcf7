package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/shared"
)

const taskColumns = `id, sequence, account_id, kind, media_path, caption, scheduled_time, status,
	error_message, media_id, attempts, created_at, updated_at, completed_at`

// TaskRepository implements [models.Repository] for [models.Task] persistence.
//
// Status changes go through compare-and-set updates so no caller can skip or revert a state.
type TaskRepository struct {
	db *sqlx.DB
}

var _ models.Repository[*models.Task] = (*TaskRepository)(nil)

// NewTaskRepository creates a new [TaskRepository] with the given database connection
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts a new pending task for an existing account.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	if task.Status == "" {
		task.Status = models.StatusPending
	}
	if err := task.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if task.Status != models.StatusPending {
		return fmt.Errorf("%w: new tasks must be pending, got %s", shared.ErrInvalidState, task.Status)
	}

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var exists bool
		if err := tx.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id = ?)", task.AccountID); err != nil {
			return fmt.Errorf("failed to check account: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", shared.ErrAccountNotFound, task.AccountID)
		}

		sequence, err := NextSequence(ctx, tx, "tasks")
		if err != nil {
			return fmt.Errorf("failed to generate sequence: %w", err)
		}

		now := time.Now().UTC()
		if task.CreatedAt.IsZero() {
			task.CreatedAt = now
		}
		task.UpdatedAt = now

		row := *task
		row.ID = shared.GenerateID()
		row.Sequence = sequence

		query := `
			INSERT INTO tasks (` + taskColumns + `)
			VALUES (:id, :sequence, :account_id, :kind, :media_path, :caption, :scheduled_time, :status,
				:error_message, :media_id, :attempts, :created_at, :updated_at, :completed_at)
		`
		if _, err := tx.NamedExecContext(ctx, query, &row); err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}

		task.ID = row.ID
		task.Sequence = row.Sequence
		return nil
	})
}

// Get retrieves a task by ID
func (r *TaskRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	if err := r.db.GetContext(ctx, &task, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", shared.ErrTaskNotFound, id)
		}
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return &task, nil
}

// Update modifies the content of a pending task.
//
// Status is never written here; use the transition methods instead.
func (r *TaskRepository) Update(ctx context.Context, task *models.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	task.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE tasks
		SET kind = :kind, media_path = :media_path, caption = :caption,
			scheduled_time = :scheduled_time, updated_at = :updated_at
		WHERE id = :id AND status = 'pending'
	`
	result, err := r.db.NamedExecContext(ctx, query, task)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	rows, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return r.missOrState(ctx, task.ID, models.StatusPending)
	}
	return nil
}

// Delete removes a task by ID
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return expectOne(result, shared.ErrTaskNotFound, id)
}

// List retrieves all tasks matching the given criteria.
//
// Supported criteria: "account_id" (string), "status" ([models.TaskStatus] or string), "limit" (int).
func (r *TaskRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1 = 1`
	args := []any{}

	if accountID, ok := criteria["account_id"].(string); ok && accountID != "" {
		query += " AND account_id = ?"
		args = append(args, accountID)
	}

	switch status := criteria["status"].(type) {
	case models.TaskStatus:
		if status != "" {
			query += " AND status = ?"
			args = append(args, string(status))
		}
	case string:
		if status != "" {
			query += " AND status = ?"
			args = append(args, status)
		}
	}

	query += " ORDER BY sequence ASC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var tasks []*models.Task
	if err := r.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	return tasks, nil
}

// ListDue returns pending tasks whose schedule is unset or has been reached, oldest first.
//
// The schedule comparison happens in Go since SQLite stores timestamps as text.
func (r *TaskRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Task, error) {
	pending, err := r.List(ctx, map[string]any{"status": models.StatusPending})
	if err != nil {
		return nil, err
	}

	due := make([]*models.Task, 0, len(pending))
	for _, task := range pending {
		if !task.IsDue(now) {
			continue
		}
		due = append(due, task)
		if limit > 0 && len(due) == limit {
			break
		}
	}
	return due, nil
}

// Claim moves a task from pending to processing in one atomic statement and counts the attempt.
//
// Of several concurrent callers exactly one succeeds; the rest get [shared.ErrInvalidState].
func (r *TaskRepository) Claim(ctx context.Context, id string) error {
	return r.transition(ctx, id, models.StatusPending, models.StatusProcessing, ", attempts = attempts + 1")
}

// Complete moves a processing task to completed and records the platform media id.
func (r *TaskRepository) Complete(ctx context.Context, id, mediaID string) error {
	return r.transition(ctx, id, models.StatusProcessing, models.StatusCompleted,
		", media_id = ?, error_message = '', completed_at = ?", mediaID, time.Now().UTC())
}

// Fail moves a processing task to failed with the given reason.
func (r *TaskRepository) Fail(ctx context.Context, id, reason string) error {
	return r.transition(ctx, id, models.StatusProcessing, models.StatusFailed,
		", error_message = ?, completed_at = ?", reason, time.Now().UTC())
}

// Reset moves a failed task back to pending so it can run again.
func (r *TaskRepository) Reset(ctx context.Context, id string) error {
	return r.transition(ctx, id, models.StatusFailed, models.StatusPending,
		", error_message = '', completed_at = NULL")
}

// transition performs a compare-and-set status update with optional extra assignments.
func (r *TaskRepository) transition(ctx context.Context, id string, from, to models.TaskStatus, set string, args ...any) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s is not allowed", shared.ErrInvalidState, from, to)
	}

	query := "UPDATE tasks SET status = ?, updated_at = ?" + set + " WHERE id = ? AND status = ?"
	params := append([]any{string(to), time.Now().UTC()}, args...)
	params = append(params, id, string(from))

	result, err := r.db.ExecContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	rows, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return r.missOrState(ctx, id, from)
	}
	return nil
}

// missOrState distinguishes a missing task from one in the wrong state after a CAS miss.
func (r *TaskRepository) missOrState(ctx context.Context, id string, want models.TaskStatus) error {
	var status models.TaskStatus
	err := r.db.GetContext(ctx, &status, "SELECT status FROM tasks WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", shared.ErrTaskNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read task status: %w", err)
	}
	return fmt.Errorf("%w: task %s is %s, expected %s", shared.ErrInvalidState, id, status, want)
}

// CountByStatus returns the number of tasks in each status.
func (r *TaskRepository) CountByStatus(ctx context.Context) (map[models.TaskStatus]int, error) {
	var rows []struct {
		Status models.TaskStatus `db:"status"`
		N      int               `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, "SELECT status, COUNT(*) AS n FROM tasks GROUP BY status"); err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	counts := map[models.TaskStatus]int{
		models.StatusPending:    0,
		models.StatusProcessing: 0,
		models.StatusCompleted:  0,
		models.StatusFailed:     0,
	}
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}
