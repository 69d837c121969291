// Package translate turns task mutations into notification records.
package translate

import (
	"fmt"

	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
	"github.com/louisbranch/taskhub/internal/services/notifications/events"
)

// Intent is one notification a task event calls for, before sender
// enrichment and persistence.
type Intent struct {
	Recipient string
	Type      domain.Type
	Title     string
	// Message renders the body given the sender's display name.
	Message func(senderName string) string
	// System intents have no acting identity; the sender is omitted.
	System bool
}

// Plan applies the recipient-selection rules to event. Outside the overdue
// sweep no intent ever targets the acting identity.
func Plan(event events.TaskEvent) []Intent {
	task := event.Task
	actor := event.ActorID
	var intents []Intent

	switch event.Kind {
	case events.KindTaskCreated:
		if task.AssigneeID != "" && task.AssigneeID != task.CreatorID {
			intents = append(intents, Intent{
				Recipient: task.AssigneeID,
				Type:      domain.TypeTaskAssigned,
				Title:     "New task assigned",
				Message: func(sender string) string {
					return fmt.Sprintf("%s assigned you a task: %s", sender, task.Title)
				},
			})
		}

	case events.KindTaskUpdated:
		if event.AssigneeChanged() {
			intents = append(intents, Intent{
				Recipient: task.AssigneeID,
				Type:      domain.TypeTaskAssigned,
				Title:     "Task assigned to you",
				Message: func(sender string) string {
					return fmt.Sprintf("%s assigned you a task: %s", sender, task.Title)
				},
			})
		}
		if event.StatusChanged() {
			statusMessage := func(sender string) string {
				return fmt.Sprintf("%s changed the status of %q from %s to %s", sender, task.Title, event.PreviousStatus, task.Status)
			}
			switch {
			case actor != "" && actor == task.AssigneeID && actor != task.CreatorID:
				intents = append(intents, Intent{
					Recipient: task.CreatorID,
					Type:      domain.TypeTaskStatusChange,
					Title:     "Task status updated",
					Message:   statusMessage,
				})
			case actor != "" && actor == task.CreatorID && actor != task.AssigneeID:
				intents = append(intents, Intent{
					Recipient: task.AssigneeID,
					Type:      domain.TypeTaskStatusChange,
					Title:     "Task status updated",
					Message:   statusMessage,
				})
			}
		}

	case events.KindTaskDeleted:
		if task.AssigneeID != "" {
			intents = append(intents, Intent{
				Recipient: task.AssigneeID,
				Type:      domain.TypeTaskUpdated,
				Title:     "Task deleted",
				Message: func(sender string) string {
					return fmt.Sprintf("%s deleted the task: %s", sender, task.Title)
				},
			})
		}

	case events.KindTaskRecurring:
		if task.AssigneeID != "" {
			intents = append(intents, Intent{
				Recipient: task.AssigneeID,
				Type:      domain.TypeTaskRecurring,
				Title:     "Recurring task created",
				Message: func(string) string {
					return fmt.Sprintf("A new instance of recurring task %q has been created", task.Title)
				},
				System: actor == "",
			})
		}

	case events.KindTaskOverdue:
		// Assignee and creator are notified independently, even when they are
		// the same identity.
		if task.AssigneeID != "" {
			intents = append(intents, Intent{
				Recipient: task.AssigneeID,
				Type:      domain.TypeTaskOverdue,
				Title:     "Task overdue",
				Message: func(string) string {
					return fmt.Sprintf("Your task %q is overdue", task.Title)
				},
				System: true,
			})
		}
		if task.CreatorID != "" {
			intents = append(intents, Intent{
				Recipient: task.CreatorID,
				Type:      domain.TypeTaskOverdue,
				Title:     "Task overdue",
				Message: func(string) string {
					return fmt.Sprintf("A task you created, %q, is overdue", task.Title)
				},
				System: true,
			})
		}
		return intents
	}

	kept := intents[:0]
	for _, intent := range intents {
		if intent.Recipient == "" || intent.Recipient == actor {
			continue
		}
		kept = append(kept, intent)
	}
	return kept
}
