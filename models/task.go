package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UnassignedUserName is the assignedUserName of a task nobody owns.
const UnassignedUserName = "unassigned"

type Task struct {
	ID               primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Name             string             `json:"name" bson:"name"`
	Description      string             `json:"description" bson:"description"`
	Deadline         time.Time          `json:"deadline" bson:"deadline"`
	Completed        bool               `json:"completed" bson:"completed"`
	AssignedUser     string             `json:"assignedUser" bson:"assignedUser"`
	AssignedUserName string             `json:"assignedUserName" bson:"assignedUserName"`
	DateCreated      time.Time          `json:"dateCreated" bson:"dateCreated"`
	UpdatedAt        time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// IsPending reports whether the task belongs in its owner's pendingTasks.
func (t *Task) IsPending() bool {
	return t.AssignedUser != "" && !t.Completed
}

// AssignTo points the task at user and copies the user's name.
func (t *Task) AssignTo(user *User) {
	t.AssignedUser = user.ID.Hex()
	t.AssignedUserName = user.Name
}

func (t *Task) Unassign() {
	t.AssignedUser = ""
	t.AssignedUserName = UnassignedUserName
}

// Document field names shared by filters and updates.
const (
	FieldID               = "_id"
	FieldName             = "name"
	FieldEmail            = "email"
	FieldDeadline         = "deadline"
	FieldCompleted        = "completed"
	FieldAssignedUser     = "assignedUser"
	FieldAssignedUserName = "assignedUserName"
	FieldPendingTasks     = "pendingTasks"
	FieldDateCreated      = "dateCreated"
	FieldUpdatedAt        = "updatedAt"
)
