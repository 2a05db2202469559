// Package services keeps tasks and users consistent with each other: a task
// assigned to a user and not completed is listed in that user's pendingTasks,
// and nowhere else.
package services

import (
	"errors"
	"fmt"

	"taskboard-project/microservices/api-service/repositories"
)

type Kind int

const (
	// KindValidation marks malformed or incomplete input.
	KindValidation Kind = iota + 1
	KindNotFound
	// KindReference marks a reference to a user that does not exist.
	KindReference
	// KindConflict marks an email or task ownership collision.
	KindConflict
	// KindStore marks an infrastructure failure.
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not found"
	case KindReference:
		return "reference"
	case KindConflict:
		return "conflict"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// Error is returned by every service operation. Detail is safe to show to
// clients except for KindStore.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindStore when err is not an *Error.
func KindOf(err error) Kind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return KindStore
}

const (
	MsgTaskRequired       = "Task name and deadline are required"
	MsgTaskNotFound       = "Task not found"
	MsgUserRequired       = "Name and email are required"
	MsgUserNotFound       = "User not found"
	MsgAssignedUser       = "Assigned user not found"
	MsgEmailTaken         = "A user with this email already exists"
	MsgTaskOwnedElsewhere = "The task is already assigned to another user"
	MsgInvalidQuery       = "Invalid query"
)

func validationError(detail string) *Error {
	return &Error{Kind: KindValidation, Detail: detail}
}

func notFoundError(detail string) *Error {
	return &Error{Kind: KindNotFound, Detail: detail}
}

func referenceError(detail string) *Error {
	return &Error{Kind: KindReference, Detail: detail}
}

func conflictError(detail string) *Error {
	return &Error{Kind: KindConflict, Detail: detail}
}

// storeError classifies a repository error. Service errors pass through.
func storeError(op string, err error) error {
	var serr *Error
	switch {
	case errors.As(err, &serr):
		return err
	case errors.Is(err, repositories.ErrDuplicate):
		return &Error{Kind: KindConflict, Detail: MsgEmailTaken, Err: err}
	case errors.Is(err, repositories.ErrInvalidQuery):
		return &Error{Kind: KindValidation, Detail: MsgInvalidQuery, Err: err}
	default:
		return &Error{Kind: KindStore, Detail: op, Err: err}
	}
}
