package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"taskboard-project/microservices/api-service/logging"
	"taskboard-project/microservices/api-service/models"
	"taskboard-project/microservices/api-service/query"
	"taskboard-project/microservices/api-service/repositories"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserQueryOptions are the list defaults for users. Users have no default limit.
var UserQueryOptions = query.Options{
	DateFields: []string{models.FieldDateCreated, models.FieldUpdatedAt},
}

type UserService struct {
	store repositories.Store
	now   func() time.Time
}

func NewUserService(store repositories.Store) *UserService {
	return &UserService{store: store, now: now}
}

func (s *UserService) ListUsers(ctx context.Context, q query.Query) ([]bson.M, error) {
	docs, err := s.store.Users().Find(ctx, q)
	if err != nil {
		return nil, storeError("failed to retrieve users", err)
	}
	return docs, nil
}

func (s *UserService) CountUsers(ctx context.Context, filter bson.M) (int64, error) {
	n, err := s.store.Users().Count(ctx, filter)
	if err != nil {
		return 0, storeError("failed to count users", err)
	}
	return n, nil
}

func (s *UserService) GetUser(ctx context.Context, id string, projection bson.D) (bson.M, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, notFoundError(MsgUserNotFound)
	}
	doc, err := s.store.Users().FindByID(ctx, oid, projection)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, notFoundError(MsgUserNotFound)
		}
		return nil, storeError("failed to retrieve user", err)
	}
	return doc, nil
}

// CreateUser stores a new user and takes ownership of the listed tasks.
func (s *UserService) CreateUser(ctx context.Context, in UserInput) (*models.User, error) {
	in = in.normalized()
	if in.Name == "" || in.Email == "" {
		return nil, validationError(MsgUserRequired)
	}

	var created *models.User
	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.checkEmail(ctx, in.Email, primitive.NilObjectID); err != nil {
			return err
		}

		ts := s.now()
		user := &models.User{
			ID:           primitive.NewObjectID(),
			Name:         in.Name,
			Email:        in.Email,
			PendingTasks: []string{},
			DateCreated:  ts,
			UpdatedAt:    ts,
		}
		claims, err := s.resolveClaims(ctx, user.ID, in.PendingTasks)
		if err != nil {
			return err
		}
		if err := s.store.Users().Insert(ctx, user); err != nil {
			return storeError("failed to create user", err)
		}

		if len(claims) > 0 {
			pending, err := s.claimTasks(ctx, user, claims, ts)
			if err != nil {
				return err
			}
			user.PendingTasks = pending
			if err := s.store.Users().Replace(ctx, user.ID, user); err != nil {
				return storeError("failed to create user", err)
			}
		}

		created = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.Infof("Event ID: USER_CREATED, Description: User %s created with %d pending tasks", created.ID.Hex(), len(created.PendingTasks))
	return created, nil
}

// UpdateUser replaces name, email and the set of pending tasks. Tasks the
// user owned before and no longer lists are unassigned.
func (s *UserService) UpdateUser(ctx context.Context, id string, in UserInput) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, notFoundError(MsgUserNotFound)
	}
	in = in.normalized()

	var updated *models.User
	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.store.Users().Get(ctx, oid)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return notFoundError(MsgUserNotFound)
			}
			return storeError("failed to retrieve user", err)
		}
		if in.Name == "" || in.Email == "" {
			return validationError(MsgUserRequired)
		}
		if err := s.checkEmail(ctx, in.Email, oid); err != nil {
			return err
		}
		claims, err := s.resolveClaims(ctx, oid, in.PendingTasks)
		if err != nil {
			return err
		}

		ts := s.now()
		if err := unassignAll(ctx, s.store, oid, ts); err != nil {
			return err
		}

		user := *existing
		user.Name = in.Name
		user.Email = in.Email
		user.UpdatedAt = ts
		pending, err := s.claimTasks(ctx, &user, claims, ts)
		if err != nil {
			return err
		}
		user.PendingTasks = pending

		if err := s.store.Users().Replace(ctx, oid, &user); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return notFoundError(MsgUserNotFound)
			}
			return storeError("failed to update user", err)
		}

		updated = &user
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.Infof("Event ID: USER_UPDATED, Description: User %s updated with %d pending tasks", id, len(updated.PendingTasks))
	return updated, nil
}

// DeleteUser unassigns every task of the user and removes the user. No task
// is deleted.
func (s *UserService) DeleteUser(ctx context.Context, id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, notFoundError(MsgUserNotFound)
	}

	var deleted *models.User
	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		user, err := s.store.Users().Get(ctx, oid)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return notFoundError(MsgUserNotFound)
			}
			return storeError("failed to retrieve user", err)
		}

		if err := unassignAll(ctx, s.store, oid, s.now()); err != nil {
			return err
		}
		removed, err := s.store.Users().Delete(ctx, oid)
		if err != nil {
			return storeError("failed to delete user", err)
		}
		if !removed {
			return notFoundError(MsgUserNotFound)
		}

		deleted = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.Infof("Event ID: USER_DELETED, Description: User %s deleted", id)
	return deleted, nil
}

// checkEmail fails when another user than self already owns email.
func (s *UserService) checkEmail(ctx context.Context, email string, self primitive.ObjectID) error {
	owner, err := s.store.Users().FindOne(ctx, bson.M{models.FieldEmail: email})
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return nil
	case err != nil:
		return storeError("failed to check email", err)
	case owner.ID != self:
		return conflictError(MsgEmailTaken)
	default:
		return nil
	}
}

// resolveClaims loads the listed tasks without writing anything, so a missing
// task or one owned by another user fails the operation before any change.
func (s *UserService) resolveClaims(ctx context.Context, owner primitive.ObjectID, ids []string) ([]*models.Task, error) {
	tasks := make([]*models.Task, 0, len(ids))
	self := owner.Hex()
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, validationError(fmt.Sprintf("Task with id %s not found", id))
		}
		task, err := s.store.Tasks().Get(ctx, oid)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, validationError(fmt.Sprintf("Task with id %s not found", id))
			}
			return nil, storeError("failed to retrieve task", err)
		}
		if task.AssignedUser != "" && task.AssignedUser != self {
			return nil, conflictError(MsgTaskOwnedElsewhere)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// claimTasks assigns each resolved task to user and returns the ids that
// belong in its pendingTasks. Completed tasks are left alone and not listed.
func (s *UserService) claimTasks(ctx context.Context, user *models.User, tasks []*models.Task, ts time.Time) ([]string, error) {
	pending := make([]string, 0, len(tasks))
	self := user.ID.Hex()
	for _, task := range tasks {
		hex := task.ID.Hex()
		if task.Completed || slices.Contains(pending, hex) {
			continue
		}

		set := bson.M{"$set": bson.M{
			models.FieldAssignedUser:     self,
			models.FieldAssignedUserName: user.Name,
			models.FieldUpdatedAt:        ts,
		}}
		if _, err := s.store.Tasks().UpdateByID(ctx, task.ID, set); err != nil {
			return nil, storeError("failed to assign task", err)
		}
		// drop stale entries so the task is listed by one user only
		stale := bson.M{models.FieldPendingTasks: hex, models.FieldID: bson.M{"$ne": user.ID}}
		if err := pullPending(ctx, s.store, stale, hex, ts); err != nil {
			return nil, err
		}
		pending = append(pending, hex)
	}
	return pending, nil
}

func unassignAll(ctx context.Context, store repositories.Store, userID primitive.ObjectID, ts time.Time) error {
	update := bson.M{"$set": bson.M{
		models.FieldAssignedUser:     "",
		models.FieldAssignedUserName: models.UnassignedUserName,
		models.FieldUpdatedAt:        ts,
	}}
	if _, err := store.Tasks().UpdateMany(ctx, bson.M{models.FieldAssignedUser: userID.Hex()}, update); err != nil {
		return storeError("failed to unassign tasks", err)
	}
	return nil
}
