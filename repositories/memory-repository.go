package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"taskboard-project/microservices/api-service/logging"
	"taskboard-project/microservices/api-service/models"
	"taskboard-project/microservices/api-service/query"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore keeps both collections in process. Transactions are serialized
// and roll back by restoring a snapshot.
type MemoryStore struct {
	txMu  sync.Mutex
	tasks *memoryCollection[models.Task]
	users *memoryCollection[models.User]
}

func NewMemoryStore() *MemoryStore {
	logging.Logger.Info("Event ID: DB_MEMORY, Description: Using in-memory document store")
	return &MemoryStore{
		tasks: newMemoryCollection[models.Task]("tasks"),
		users: newMemoryCollection[models.User]("users", models.FieldEmail),
	}
}

func (s *MemoryStore) Tasks() Collection[models.Task] { return s.tasks }
func (s *MemoryStore) Users() Collection[models.User] { return s.users }

// WithTransaction must not be nested.
func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tasks, users := s.tasks.snapshot(), s.users.snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.tasks.restore(tasks)
			s.users.restore(users)
			panic(r)
		}
		if err != nil {
			s.tasks.restore(tasks)
			s.users.restore(users)
		}
	}()

	return fn(ctx)
}

func (s *MemoryStore) EnsureIndexes(ctx context.Context) error { return nil }

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

type memorySnapshot struct {
	docs  map[primitive.ObjectID]bson.M
	order []primitive.ObjectID
}

type memoryCollection[T any] struct {
	name   string
	unique []string

	mu    sync.RWMutex
	docs  map[primitive.ObjectID]bson.M
	order []primitive.ObjectID
}

func newMemoryCollection[T any](name string, unique ...string) *memoryCollection[T] {
	return &memoryCollection[T]{
		name:   name,
		unique: unique,
		docs:   map[primitive.ObjectID]bson.M{},
	}
}

// Stored documents are never mutated in place, so a snapshot only copies
// the index structures.
func (c *memoryCollection[T]) snapshot() memorySnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	docs := make(map[primitive.ObjectID]bson.M, len(c.docs))
	for id, doc := range c.docs {
		docs[id] = doc
	}
	return memorySnapshot{docs: docs, order: append([]primitive.ObjectID(nil), c.order...)}
}

func (c *memoryCollection[T]) restore(s memorySnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs, c.order = s.docs, s.order
}

func (c *memoryCollection[T]) Find(ctx context.Context, q query.Query) ([]bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter, err := normalize(q.Filter)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	matched, err := c.matching(filter)
	c.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%s find: %w", c.name, err)
	}

	if len(q.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool { return sortLess(matched[i], matched[j], q.Sort) })
	}
	if q.Skip > 0 {
		if q.Skip >= int64(len(matched)) {
			matched = nil
		} else {
			matched = matched[q.Skip:]
		}
	}
	if q.Limit > 0 && q.Limit < int64(len(matched)) {
		matched = matched[:q.Limit]
	}

	docs := make([]bson.M, 0, len(matched))
	for _, doc := range matched {
		projected, err := project(cloneDoc(doc), q.Projection)
		if err != nil {
			return nil, fmt.Errorf("%s find: %w", c.name, err)
		}
		docs = append(docs, projected)
	}
	return docs, nil
}

func (c *memoryCollection[T]) FindByID(ctx context.Context, id primitive.ObjectID, projection bson.D) (bson.M, error) {
	c.mu.RLock()
	doc, ok := c.docs[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s find by id: %w", c.name, ErrNotFound)
	}
	projected, err := project(cloneDoc(doc), projection)
	if err != nil {
		return nil, fmt.Errorf("%s find by id: %w", c.name, err)
	}
	return projected, nil
}

func (c *memoryCollection[T]) Get(ctx context.Context, id primitive.ObjectID) (*T, error) {
	c.mu.RLock()
	doc, ok := c.docs[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s get: %w", c.name, ErrNotFound)
	}
	return decode[T](doc)
}

func (c *memoryCollection[T]) FindOne(ctx context.Context, filter bson.M) (*T, error) {
	normalized, err := normalize(filter)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	matched, err := c.matching(normalized)
	c.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%s find one: %w", c.name, err)
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("%s find one: %w", c.name, ErrNotFound)
	}
	return decode[T](matched[0])
}

func (c *memoryCollection[T]) Count(ctx context.Context, filter bson.M) (int64, error) {
	normalized, err := normalize(filter)
	if err != nil {
		return 0, err
	}
	c.mu.RLock()
	matched, err := c.matching(normalized)
	c.mu.RUnlock()
	if err != nil {
		return 0, fmt.Errorf("%s count: %w", c.name, err)
	}
	return int64(len(matched)), nil
}

func (c *memoryCollection[T]) Insert(ctx context.Context, value *T) error {
	doc, err := toDoc(value)
	if err != nil {
		return err
	}
	id, ok := doc["_id"].(primitive.ObjectID)
	if !ok {
		id = primitive.NewObjectID()
		doc["_id"] = id
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.docs[id]; exists {
		return fmt.Errorf("%s insert: %w: _id %s", c.name, ErrDuplicate, id.Hex())
	}
	if err := c.checkUnique(id, doc, nil); err != nil {
		return fmt.Errorf("%s insert: %w", c.name, err)
	}
	c.docs[id] = doc
	c.order = append(c.order, id)
	return nil
}

func (c *memoryCollection[T]) Replace(ctx context.Context, id primitive.ObjectID, value *T) error {
	doc, err := toDoc(value)
	if err != nil {
		return err
	}
	doc["_id"] = id

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.docs[id]; !exists {
		return fmt.Errorf("%s replace %s: %w", c.name, id.Hex(), ErrNotFound)
	}
	if err := c.checkUnique(id, doc, nil); err != nil {
		return fmt.Errorf("%s replace: %w", c.name, err)
	}
	c.docs[id] = doc
	return nil
}

func (c *memoryCollection[T]) Delete(ctx context.Context, id primitive.ObjectID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.docs[id]; !exists {
		return false, nil
	}
	delete(c.docs, id)
	order := make([]primitive.ObjectID, 0, len(c.order))
	for _, other := range c.order {
		if other != id {
			order = append(order, other)
		}
	}
	c.order = order
	return true, nil
}

func (c *memoryCollection[T]) UpdateByID(ctx context.Context, id primitive.ObjectID, update bson.M) (bool, error) {
	n, err := c.UpdateMany(ctx, bson.M{"_id": id}, update)
	return n > 0, err
}

func (c *memoryCollection[T]) UpdateMany(ctx context.Context, filter bson.M, update bson.M) (int64, error) {
	normalizedFilter, err := normalize(filter)
	if err != nil {
		return 0, err
	}
	normalizedUpdate, err := normalize(update)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	matched, err := c.matching(normalizedFilter)
	if err != nil {
		return 0, fmt.Errorf("%s update: %w", c.name, err)
	}

	updated := make(map[primitive.ObjectID]bson.M, len(matched))
	for _, doc := range matched {
		id := doc["_id"].(primitive.ObjectID)
		next, err := applyUpdate(doc, normalizedUpdate)
		if err != nil {
			return 0, fmt.Errorf("%s update: %w", c.name, err)
		}
		updated[id] = next
	}
	for id, doc := range updated {
		if err := c.checkUnique(id, doc, updated); err != nil {
			return 0, fmt.Errorf("%s update: %w", c.name, err)
		}
	}
	for id, doc := range updated {
		c.docs[id] = doc
	}
	return int64(len(matched)), nil
}

// matching returns stored documents in insertion order. Callers hold mu.
func (c *memoryCollection[T]) matching(filter bson.M) ([]bson.M, error) {
	out := []bson.M{}
	for _, id := range c.order {
		doc := c.docs[id]
		ok, err := matches(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// checkUnique rejects doc when another document holds the same value in a
// unique field. pending holds documents about to replace stored ones.
// Callers hold mu.
func (c *memoryCollection[T]) checkUnique(id primitive.ObjectID, doc bson.M, pending map[primitive.ObjectID]bson.M) error {
	for _, field := range c.unique {
		value, ok := doc[field]
		if !ok {
			continue
		}
		for otherID, other := range c.docs {
			if otherID == id {
				continue
			}
			if next, ok := pending[otherID]; ok {
				other = next
			}
			if otherValue, ok := other[field]; ok && equalValues(otherValue, value) {
				return fmt.Errorf("%w: %s %v", ErrDuplicate, field, value)
			}
		}
	}
	return nil
}

// normalize round-trips a document through bson so Go slices, times and
// structs compare the same way as decoded documents.
func normalize(m bson.M) (bson.M, error) {
	if len(m) == 0 {
		return bson.M{}, nil
	}
	raw, err := bson.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return out, nil
}

func toDoc[T any](value *T) (bson.M, error) {
	raw, err := bson.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func decode[T any](doc bson.M) (*T, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out T
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &out, nil
}
