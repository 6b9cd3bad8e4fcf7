package tasks

import (
	"fmt"

	"github.com/desertthunder/postmate/internal/models"
)

// ProgressUpdate represents a progress event while a task is advanced.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	TaskID  string // Task being advanced
	Phase   Phase  // Execution phase
	Step    int    // Current step number
	Total   int    // Total steps
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Execution phase enumeration
type Phase int

const (
	Claimed Phase = iota
	Session
	Publishing
	Completed
	Failed
	Skipped
)

const totalSteps = 4

func (p Phase) String() string {
	switch p {
	case Claimed:
		return "claimed"
	case Session:
		return "session"
	case Publishing:
		return "publishing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return ""
	}
}

func claimedUpdate(task *models.Task) ProgressUpdate {
	return ProgressUpdate{
		TaskID:  task.ID,
		Phase:   Claimed,
		Step:    1,
		Total:   totalSteps,
		Message: fmt.Sprintf("Claimed task #%d (%s)", task.Sequence, task.Kind),
	}
}

func sessionUpdate(task *models.Task) ProgressUpdate {
	return ProgressUpdate{
		TaskID:  task.ID,
		Phase:   Session,
		Step:    2,
		Total:   totalSteps,
		Message: "Acquiring account session...",
	}
}

func publishingUpdate(task *models.Task, username string) ProgressUpdate {
	return ProgressUpdate{
		TaskID:  task.ID,
		Phase:   Publishing,
		Step:    3,
		Total:   totalSteps,
		Message: fmt.Sprintf("Publishing %d item(s) as %s...", len(task.MediaItems()), username),
	}
}

func completedUpdate(task *models.Task, mediaID string) ProgressUpdate {
	return ProgressUpdate{
		TaskID:  task.ID,
		Phase:   Completed,
		Step:    totalSteps,
		Total:   totalSteps,
		Message: fmt.Sprintf("✓ Published (media %s)", mediaID),
		Data:    mediaID,
	}
}

func failedUpdate(task *models.Task, step int, reason string) ProgressUpdate {
	return ProgressUpdate{
		TaskID:  task.ID,
		Phase:   Failed,
		Step:    step,
		Total:   totalSteps,
		Message: fmt.Sprintf("✗ %s", reason),
	}
}

func skippedUpdate(task *models.Task, reason string) ProgressUpdate {
	return ProgressUpdate{
		TaskID:  task.ID,
		Phase:   Skipped,
		Total:   totalSteps,
		Message: reason,
	}
}
