package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskboard-project/microservices/api-service/logging"
	"taskboard-project/microservices/api-service/query"

	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NewBreaker builds the circuit breaker shared by the store collections.
// Domain outcomes such as a missing document count as successes.
func NewBreaker(name string, maxFailures uint32, timeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsDomainError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Logger.Warnf("Event ID: CIRCUIT_BREAKER_STATE_CHANGE, Description: Circuit Breaker '%s' changed from '%s' to '%s'", name, from.String(), to.String())
		},
	})
}

// WithBreaker routes every call on c through cb.
func WithBreaker[T any](c Collection[T], cb *gobreaker.CircuitBreaker) Collection[T] {
	return &breakerCollection[T]{next: c, cb: cb}
}

type breakerCollection[T any] struct {
	next Collection[T]
	cb   *gobreaker.CircuitBreaker
}

func execute[R any](cb *gobreaker.CircuitBreaker, fn func() (R, error)) (R, error) {
	out, err := cb.Execute(func() (interface{}, error) {
		v, err := fn()
		return v, err
	})
	if err != nil {
		var zero R
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return zero, err
	}
	return out.(R), nil
}

func (b *breakerCollection[T]) Find(ctx context.Context, q query.Query) ([]bson.M, error) {
	return execute(b.cb, func() ([]bson.M, error) { return b.next.Find(ctx, q) })
}

func (b *breakerCollection[T]) FindByID(ctx context.Context, id primitive.ObjectID, projection bson.D) (bson.M, error) {
	return execute(b.cb, func() (bson.M, error) { return b.next.FindByID(ctx, id, projection) })
}

func (b *breakerCollection[T]) Get(ctx context.Context, id primitive.ObjectID) (*T, error) {
	return execute(b.cb, func() (*T, error) { return b.next.Get(ctx, id) })
}

func (b *breakerCollection[T]) FindOne(ctx context.Context, filter bson.M) (*T, error) {
	return execute(b.cb, func() (*T, error) { return b.next.FindOne(ctx, filter) })
}

func (b *breakerCollection[T]) Count(ctx context.Context, filter bson.M) (int64, error) {
	return execute(b.cb, func() (int64, error) { return b.next.Count(ctx, filter) })
}

func (b *breakerCollection[T]) Insert(ctx context.Context, doc *T) error {
	_, err := execute(b.cb, func() (struct{}, error) { return struct{}{}, b.next.Insert(ctx, doc) })
	return err
}

func (b *breakerCollection[T]) Replace(ctx context.Context, id primitive.ObjectID, doc *T) error {
	_, err := execute(b.cb, func() (struct{}, error) { return struct{}{}, b.next.Replace(ctx, id, doc) })
	return err
}

func (b *breakerCollection[T]) Delete(ctx context.Context, id primitive.ObjectID) (bool, error) {
	return execute(b.cb, func() (bool, error) { return b.next.Delete(ctx, id) })
}

func (b *breakerCollection[T]) UpdateByID(ctx context.Context, id primitive.ObjectID, update bson.M) (bool, error) {
	return execute(b.cb, func() (bool, error) { return b.next.UpdateByID(ctx, id, update) })
}

func (b *breakerCollection[T]) UpdateMany(ctx context.Context, filter bson.M, update bson.M) (int64, error) {
	return execute(b.cb, func() (int64, error) { return b.next.UpdateMany(ctx, filter, update) })
}
