// Package events defines the task-mutation contract consumed by the
// notification pipeline and an in-process bus that decouples task writes from
// notification generation.
package events

import (
	"errors"
	"strings"
	"time"
)

// Kind names one task mutation.
type Kind string

const (
	KindTaskCreated   Kind = "task.created"
	KindTaskUpdated   Kind = "task.updated"
	KindTaskDeleted   Kind = "task.deleted"
	KindTaskRecurring Kind = "task.recurring"
	KindTaskOverdue   Kind = "task.overdue"
)

// StatusCompleted is the task status the overdue sweep skips.
const StatusCompleted = "completed"

var (
	// ErrKindRequired indicates an event without a known kind.
	ErrKindRequired = errors.New("task event kind is required")
	// ErrTaskIDRequired indicates an event without a task id.
	ErrTaskIDRequired = errors.New("task event task id is required")
)

// Task is the task snapshot carried by an event after the mutation.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	CreatorID   string     `json:"creatorId"`
	Status      string     `json:"status,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// TaskEvent is emitted by the task layer after a mutation commits.
type TaskEvent struct {
	Kind               Kind      `json:"type"`
	ActorID            string    `json:"actorId,omitempty"`
	Task               Task      `json:"task"`
	PreviousAssigneeID string    `json:"previousAssigneeId,omitempty"`
	PreviousStatus     string    `json:"previousStatus,omitempty"`
	OccurredAt         time.Time `json:"occurredAt,omitempty"`
}

// Normalize trims identifiers in place.
func (e *TaskEvent) Normalize() {
	e.Kind = Kind(strings.ToLower(strings.TrimSpace(string(e.Kind))))
	e.ActorID = strings.TrimSpace(e.ActorID)
	e.PreviousAssigneeID = strings.TrimSpace(e.PreviousAssigneeID)
	e.PreviousStatus = strings.TrimSpace(e.PreviousStatus)
	e.Task.ID = strings.TrimSpace(e.Task.ID)
	e.Task.AssigneeID = strings.TrimSpace(e.Task.AssigneeID)
	e.Task.CreatorID = strings.TrimSpace(e.Task.CreatorID)
	e.Task.Status = strings.TrimSpace(e.Task.Status)
}

// Validate checks the fields every translator rule relies on.
func (e TaskEvent) Validate() error {
	switch e.Kind {
	case KindTaskCreated, KindTaskUpdated, KindTaskDeleted, KindTaskRecurring, KindTaskOverdue:
	default:
		return ErrKindRequired
	}
	if strings.TrimSpace(e.Task.ID) == "" {
		return ErrTaskIDRequired
	}
	return nil
}

// StatusChanged reports whether the mutation moved the task to a new status.
func (e TaskEvent) StatusChanged() bool {
	return e.PreviousStatus != "" && e.PreviousStatus != e.Task.Status
}

// AssigneeChanged reports whether the mutation moved the task to a new assignee.
func (e TaskEvent) AssigneeChanged() bool {
	return e.Task.AssigneeID != "" && e.Task.AssigneeID != e.PreviousAssigneeID
}
