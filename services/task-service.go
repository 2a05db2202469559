package services

import (
	"context"
	"errors"
	"time"

	"taskboard-project/microservices/api-service/logging"
	"taskboard-project/microservices/api-service/models"
	"taskboard-project/microservices/api-service/query"
	"taskboard-project/microservices/api-service/repositories"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TaskQueryOptions are the list defaults for tasks.
var TaskQueryOptions = query.Options{
	DefaultLimit: 100,
	DateFields:   []string{models.FieldDeadline, models.FieldDateCreated, models.FieldUpdatedAt},
}

type TaskService struct {
	store repositories.Store
	now   func() time.Time
}

func NewTaskService(store repositories.Store) *TaskService {
	return &TaskService{store: store, now: now}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func (s *TaskService) ListTasks(ctx context.Context, q query.Query) ([]bson.M, error) {
	docs, err := s.store.Tasks().Find(ctx, q)
	if err != nil {
		return nil, storeError("failed to retrieve tasks", err)
	}
	return docs, nil
}

func (s *TaskService) CountTasks(ctx context.Context, filter bson.M) (int64, error) {
	n, err := s.store.Tasks().Count(ctx, filter)
	if err != nil {
		return 0, storeError("failed to count tasks", err)
	}
	return n, nil
}

// GetTask returns the raw document so that a projection is preserved.
// Malformed ids are reported as not found.
func (s *TaskService) GetTask(ctx context.Context, id string, projection bson.D) (bson.M, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, notFoundError(MsgTaskNotFound)
	}
	doc, err := s.store.Tasks().FindByID(ctx, oid, projection)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, notFoundError(MsgTaskNotFound)
		}
		return nil, storeError("failed to retrieve task", err)
	}
	return doc, nil
}

// CreateTask stores a new task and, when it is assigned and pending, lists it
// on the owner. An unknown assignee removes the freshly stored task again.
func (s *TaskService) CreateTask(ctx context.Context, in TaskInput) (*models.Task, error) {
	in = in.normalized()
	if in.Name == "" || in.Deadline.IsZero() {
		return nil, validationError(MsgTaskRequired)
	}

	var created *models.Task
	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		ts := s.now()
		task := &models.Task{
			ID:          primitive.NewObjectID(),
			Name:        in.Name,
			Description: in.Description,
			Deadline:    in.Deadline,
			Completed:   in.Completed,
			DateCreated: ts,
			UpdatedAt:   ts,
		}
		task.Unassign()

		if err := s.store.Tasks().Insert(ctx, task); err != nil {
			return storeError("failed to create task", err)
		}

		if in.AssignedUser != "" {
			user, err := findAssignee(ctx, s.store, in.AssignedUser)
			if err != nil {
				if _, delErr := s.store.Tasks().Delete(ctx, task.ID); delErr != nil {
					logging.Logger.Errorf("Event ID: TASK_ROLLBACK_FAILED, Description: Failed to remove task %s after assignee lookup failed: %v", task.ID.Hex(), delErr)
				}
				return err
			}

			task.AssignTo(user)
			set := bson.M{"$set": bson.M{
				models.FieldAssignedUser:     task.AssignedUser,
				models.FieldAssignedUserName: task.AssignedUserName,
			}}
			if _, err := s.store.Tasks().UpdateByID(ctx, task.ID, set); err != nil {
				return storeError("failed to assign task", err)
			}
			if task.IsPending() {
				if err := addPending(ctx, s.store, user.ID, task.ID.Hex(), ts); err != nil {
					return err
				}
			}
		}

		created = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.Infof("Event ID: TASK_CREATED, Description: Task %s created (assignedUser: %q)", created.ID.Hex(), created.AssignedUser)
	return created, nil
}

// UpdateTask replaces the writable fields of a task and moves its pending
// entry to the new owner.
func (s *TaskService) UpdateTask(ctx context.Context, id string, in TaskInput) (*models.Task, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, notFoundError(MsgTaskNotFound)
	}
	in = in.normalized()

	var updated *models.Task
	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.store.Tasks().Get(ctx, oid)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return notFoundError(MsgTaskNotFound)
			}
			return storeError("failed to retrieve task", err)
		}
		if in.Name == "" || in.Deadline.IsZero() {
			return validationError(MsgTaskRequired)
		}

		var owner *models.User
		if in.AssignedUser != "" {
			if owner, err = findAssignee(ctx, s.store, in.AssignedUser); err != nil {
				return err
			}
		}

		ts := s.now()
		task := *existing
		task.Name = in.Name
		task.Description = in.Description
		task.Deadline = in.Deadline
		task.Completed = in.Completed
		task.UpdatedAt = ts
		if owner != nil {
			task.AssignTo(owner)
		} else {
			task.Unassign()
		}

		if err := s.store.Tasks().Replace(ctx, oid, &task); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return notFoundError(MsgTaskNotFound)
			}
			return storeError("failed to update task", err)
		}

		hex := oid.Hex()
		holders := bson.M{models.FieldPendingTasks: hex}
		if task.IsPending() {
			holders[models.FieldID] = bson.M{"$ne": owner.ID}
		}
		if err := pullPending(ctx, s.store, holders, hex, ts); err != nil {
			return err
		}
		if task.IsPending() {
			if err := addPending(ctx, s.store, owner.ID, hex, ts); err != nil {
				return err
			}
		}

		updated = &task
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.Infof("Event ID: TASK_UPDATED, Description: Task %s updated (assignedUser: %q, completed: %t)", id, updated.AssignedUser, updated.Completed)
	return updated, nil
}

// DeleteTask removes the task and every pendingTasks entry pointing at it.
func (s *TaskService) DeleteTask(ctx context.Context, id string) (*models.Task, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, notFoundError(MsgTaskNotFound)
	}

	var deleted *models.Task
	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		task, err := s.store.Tasks().Get(ctx, oid)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return notFoundError(MsgTaskNotFound)
			}
			return storeError("failed to retrieve task", err)
		}

		hex := oid.Hex()
		if err := pullPending(ctx, s.store, bson.M{models.FieldPendingTasks: hex}, hex, s.now()); err != nil {
			return err
		}
		removed, err := s.store.Tasks().Delete(ctx, oid)
		if err != nil {
			return storeError("failed to delete task", err)
		}
		if !removed {
			return notFoundError(MsgTaskNotFound)
		}

		deleted = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.Infof("Event ID: TASK_DELETED, Description: Task %s deleted", id)
	return deleted, nil
}

// findAssignee resolves a user reference. A malformed id is an unknown user.
func findAssignee(ctx context.Context, store repositories.Store, id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, referenceError(MsgAssignedUser)
	}
	user, err := store.Users().Get(ctx, oid)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, referenceError(MsgAssignedUser)
		}
		return nil, storeError("failed to retrieve assigned user", err)
	}
	return user, nil
}

func addPending(ctx context.Context, store repositories.Store, userID primitive.ObjectID, taskID string, ts time.Time) error {
	update := bson.M{
		"$addToSet": bson.M{models.FieldPendingTasks: taskID},
		"$set":      bson.M{models.FieldUpdatedAt: ts},
	}
	if _, err := store.Users().UpdateByID(ctx, userID, update); err != nil {
		return storeError("failed to update pending tasks", err)
	}
	return nil
}

func pullPending(ctx context.Context, store repositories.Store, filter bson.M, taskID string, ts time.Time) error {
	update := bson.M{
		"$pull": bson.M{models.FieldPendingTasks: taskID},
		"$set":  bson.M{models.FieldUpdatedAt: ts},
	}
	if _, err := store.Users().UpdateMany(ctx, filter, update); err != nil {
		return storeError("failed to update pending tasks", err)
	}
	return nil
}
