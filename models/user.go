package models

import (
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type User struct {
	ID           primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Name         string             `json:"name" bson:"name"`
	Email        string             `json:"email" bson:"email"`
	PendingTasks []string           `json:"pendingTasks" bson:"pendingTasks"`
	DateCreated  time.Time          `json:"dateCreated" bson:"dateCreated"`
	UpdatedAt    time.Time          `json:"updatedAt" bson:"updatedAt"`
}

func (u *User) HasPendingTask(taskID string) bool {
	return slices.Contains(u.PendingTasks, taskID)
}
