package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/taskhub/internal/services/notifications/events"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// OverdueTasks enumerates past-due, incomplete tasks from the tasks collection.
type OverdueTasks struct {
	collection *mongo.Collection
}

type taskRow struct {
	ID          any        `bson:"_id"`
	Title       string     `bson:"title"`
	Description string     `bson:"description"`
	AssignedTo  any        `bson:"assignedTo"`
	CreatedBy   any        `bson:"createdBy"`
	Status      string     `bson:"status"`
	DueDate     *time.Time `bson:"dueDate"`
}

// NewOverdueTasks wraps db's tasks collection.
func NewOverdueTasks(db *mongo.Database) *OverdueTasks {
	return &OverdueTasks{collection: db.Collection(TasksCollection)}
}

// ListOverdue returns every task with dueDate before now whose status is not
// completed.
func (o *OverdueTasks) ListOverdue(ctx context.Context, now time.Time) ([]events.Task, error) {
	if o == nil || o.collection == nil {
		return nil, fmt.Errorf("task source is not configured")
	}
	cursor, err := o.collection.Find(ctx,
		bson.M{
			"dueDate": bson.M{"$lt": now.UTC()},
			"status":  bson.M{"$ne": events.StatusCompleted},
		},
		options.Find().SetSort(bson.D{{Key: "dueDate", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find overdue tasks: %w", err)
	}
	var rows []taskRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode overdue tasks: %w", err)
	}
	tasks := make([]events.Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, events.Task{
			ID:          idString(row.ID),
			Title:       row.Title,
			Description: row.Description,
			AssigneeID:  idString(row.AssignedTo),
			CreatorID:   idString(row.CreatedBy),
			Status:      row.Status,
			DueDate:     row.DueDate,
		})
	}
	return tasks, nil
}
