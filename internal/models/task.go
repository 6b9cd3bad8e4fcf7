package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/postmate/internal/shared"
)

// TaskKind selects the publish endpoint used for a task.
type TaskKind string

const (
	KindPhoto    TaskKind = "photo"
	KindVideo    TaskKind = "video"
	KindCarousel TaskKind = "carousel"
)

// ParseTaskKind validates a kind name.
func ParseTaskKind(s string) (TaskKind, error) {
	k := TaskKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindPhoto, KindVideo, KindCarousel:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown task kind %q", shared.ErrInvalidInput, s)
}

// TaskStatus is the lifecycle state of a [Task].
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// allowedTransitions lists every legal status move.
// failed -> pending is only reachable through an explicit operator reset.
var allowedTransitions = map[TaskStatus][]TaskStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusPending},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further automatic transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseTaskStatus validates a status name.
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown task status %q", shared.ErrInvalidInput, s)
}

// Task is one unit of publishing work for an account.
type Task struct {
	ID            string     `db:"id" json:"id"`
	Sequence      int        `db:"sequence" json:"sequence"`
	AccountID     string     `db:"account_id" json:"account_id"`
	Kind          TaskKind   `db:"kind" json:"kind"`
	MediaPath     string     `db:"media_path" json:"media_path"`
	Caption       string     `db:"caption" json:"caption"`
	ScheduledTime *time.Time `db:"scheduled_time" json:"scheduled_time,omitempty"`
	Status        TaskStatus `db:"status" json:"status"`
	ErrorMessage  string     `db:"error_message" json:"error_message,omitempty"`
	MediaID       string     `db:"media_id" json:"media_id,omitempty"`
	Attempts      int        `db:"attempts" json:"attempts"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// NewTask creates a pending [Task]. Carousel media is passed as several paths.
func NewTask(accountID string, kind TaskKind, caption string, paths ...string) *Task {
	now := time.Now().UTC()
	return &Task{
		AccountID: accountID,
		Kind:      kind,
		MediaPath: EncodeMedia(paths),
		Caption:   caption,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (t *Task) GetID() string      { return t.ID }
func (t *Task) Created() time.Time { return t.CreatedAt }
func (t *Task) Updated() time.Time { return t.UpdatedAt }

// Validate checks the account link, kind and media count.
func (t *Task) Validate() error {
	if t.AccountID == "" {
		return fmt.Errorf("%w: task account is required", shared.ErrInvalidInput)
	}
	if _, err := ParseTaskKind(string(t.Kind)); err != nil {
		return err
	}

	items := t.MediaItems()
	switch {
	case len(items) == 0:
		return fmt.Errorf("%w: media path is required", shared.ErrInvalidInput)
	case t.Kind == KindCarousel && len(items) < 2:
		return fmt.Errorf("%w: carousel needs at least two media items", shared.ErrInvalidInput)
	case t.Kind != KindCarousel && len(items) > 1:
		return fmt.Errorf("%w: %s takes exactly one media item", shared.ErrInvalidInput, t.Kind)
	}

	if t.Status != "" {
		if _, err := ParseTaskStatus(string(t.Status)); err != nil {
			return err
		}
	}
	return nil
}

// MediaItems decodes the stored media list.
//
// The column holds a JSON array; a value that is not an array is a single path.
func (t *Task) MediaItems() []string {
	raw := strings.TrimSpace(t.MediaPath)
	if raw == "" {
		return nil
	}
	if !strings.HasPrefix(raw, "[") {
		return []string{raw}
	}

	var paths []string
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		return []string{raw}
	}
	return cleanMedia(paths)
}

// IsDue reports whether the task may run at now.
func (t *Task) IsDue(now time.Time) bool {
	return t.ScheduledTime == nil || !t.ScheduledTime.After(now)
}

// EncodeMedia stores media paths as a JSON array so any file name survives the round trip.
func EncodeMedia(paths []string) string {
	data, err := json.Marshal(cleanMedia(paths))
	if err != nil {
		return "[]"
	}
	return string(data)
}

func cleanMedia(paths []string) []string {
	clean := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			clean = append(clean, p)
		}
	}
	return clean
}
