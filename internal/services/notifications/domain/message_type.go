package domain

import "strings"

// Type classifies why a notification was generated.
type Type string

const (
	TypeTaskAssigned     Type = "task-assigned"
	TypeTaskUpdated      Type = "task-updated"
	TypeTaskCompleted    Type = "task-completed"
	TypeTaskDeadline     Type = "task-deadline"
	TypeTaskStatusChange Type = "task-status-change"
	TypeTaskRecurring    Type = "task-recurring"
	TypeTaskOverdue      Type = "task-overdue"
	TypeSystem           Type = "system"
)

var knownTypes = map[Type]struct{}{
	TypeTaskAssigned:     {},
	TypeTaskUpdated:      {},
	TypeTaskCompleted:    {},
	TypeTaskDeadline:     {},
	TypeTaskStatusChange: {},
	TypeTaskRecurring:    {},
	TypeTaskOverdue:      {},
	TypeSystem:           {},
}

// NormalizeType normalizes a producer-provided type token.
func NormalizeType(raw string) Type {
	return Type(strings.ToLower(strings.TrimSpace(raw)))
}

// Valid reports whether t is one of the closed set of notification types.
func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

func (t Type) String() string {
	return string(t)
}
