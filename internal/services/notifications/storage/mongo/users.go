package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
	"github.com/louisbranch/taskhub/internal/services/notifications/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Directory resolves user display projections from the users collection.
type Directory struct {
	collection *mongo.Collection
}

type userDocument struct {
	ID    any    `bson:"_id"`
	Name  string `bson:"name"`
	Email string `bson:"email"`
}

// NewDirectory wraps db's users collection.
func NewDirectory(db *mongo.Database) *Directory {
	return &Directory{collection: db.Collection(UsersCollection)}
}

// LookupUser returns {id, name, email} for userID. Only the projection
// fields are read; password hashes never leave the database.
func (d *Directory) LookupUser(ctx context.Context, userID string) (domain.Identity, error) {
	if d == nil || d.collection == nil {
		return domain.Identity{}, fmt.Errorf("directory is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Identity{}, fmt.Errorf("user id is required")
	}
	var doc userDocument
	err := d.collection.FindOne(ctx,
		bson.M{"_id": idFilterValue(userID)},
		options.FindOne().SetProjection(bson.M{"name": 1, "email": 1}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Identity{}, storage.ErrNotFound
		}
		return domain.Identity{}, fmt.Errorf("find user: %w", err)
	}
	return domain.Identity{ID: userID, Name: doc.Name, Email: doc.Email}, nil
}

// idFilterValue matches ObjectID keys written by the task service while still
// accepting plain string ids.
func idFilterValue(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"$in": bson.A{oid, id}}
	}
	return id
}

func idString(value any) string {
	switch v := value.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
