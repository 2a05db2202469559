// Package repositories persists tasks and users. Two drivers implement Store:
// MongoDB for deployments and an in-memory document store for local runs and
// tests. Both speak the same bson filter and update dialect.
package repositories

import (
	"context"
	"errors"

	"taskboard-project/microservices/api-service/models"
	"taskboard-project/microservices/api-service/query"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when no document matches an id or filter.
	ErrNotFound = errors.New("document not found")

	// ErrDuplicate is returned when a write violates a unique index.
	ErrDuplicate = errors.New("duplicate key")

	// ErrInvalidQuery is returned when the store rejects a filter, sort,
	// projection or update document.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("store unavailable")
)

// Collection is the per-entity persistence contract.
type Collection[T any] interface {
	// Find returns raw documents so projections survive the round trip.
	Find(ctx context.Context, q query.Query) ([]bson.M, error)
	FindByID(ctx context.Context, id primitive.ObjectID, projection bson.D) (bson.M, error)
	Get(ctx context.Context, id primitive.ObjectID) (*T, error)
	FindOne(ctx context.Context, filter bson.M) (*T, error)
	Count(ctx context.Context, filter bson.M) (int64, error)
	Insert(ctx context.Context, doc *T) error
	// Replace overwrites the document stored under id.
	Replace(ctx context.Context, id primitive.ObjectID, doc *T) error
	Delete(ctx context.Context, id primitive.ObjectID) (bool, error)
	UpdateByID(ctx context.Context, id primitive.ObjectID, update bson.M) (bool, error)
	// UpdateMany returns the number of matched documents.
	UpdateMany(ctx context.Context, filter bson.M, update bson.M) (int64, error)
}

type Store interface {
	Tasks() Collection[models.Task]
	Users() Collection[models.User]
	// WithTransaction runs fn so that its writes commit together. Drivers
	// without transaction support run fn directly.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	EnsureIndexes(ctx context.Context) error
	Close(ctx context.Context) error
}

// IsDomainError reports errors that describe the request rather than the
// health of the store.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, context.Canceled)
}
