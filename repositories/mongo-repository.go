package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskboard-project/microservices/api-service/logging"
	"taskboard-project/microservices/api-service/models"
	"taskboard-project/microservices/api-service/query"

	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoConfig struct {
	URI             string
	Database        string
	TasksCollection string
	UsersCollection string
	Transactions    bool
	Timeout         time.Duration
}

type MongoStore struct {
	client       *mongo.Client
	tasksColl    *mongo.Collection
	usersColl    *mongo.Collection
	tasks        Collection[models.Task]
	users        Collection[models.User]
	transactions bool
}

// Server error codes for filters, projections and updates the server refuses.
var invalidQueryCodes = map[int32]bool{
	2:     true, // BadValue
	9:     true, // FailedToParse
	14:    true, // TypeMismatch
	31249: true, // projection path collision
	31253: true, // inclusion in exclusion projection
	31254: true, // exclusion in inclusion projection
}

// NewMongoStore connects, pings and wraps both collections with breaker when
// one is given.
func NewMongoStore(ctx context.Context, cfg MongoConfig, breaker *gobreaker.CircuitBreaker) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	clientOpts := options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout)
	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	logging.Logger.Infof("Event ID: DB_CONNECTED, Description: Connected to MongoDB database %s", cfg.Database)

	return newMongoStore(client, client.Database(cfg.Database), cfg, breaker), nil
}

func newMongoStore(client *mongo.Client, db *mongo.Database, cfg MongoConfig, breaker *gobreaker.CircuitBreaker) *MongoStore {
	s := &MongoStore{
		client:       client,
		tasksColl:    db.Collection(cfg.TasksCollection),
		usersColl:    db.Collection(cfg.UsersCollection),
		transactions: cfg.Transactions,
	}

	var tasks Collection[models.Task] = &mongoCollection[models.Task]{coll: s.tasksColl}
	var users Collection[models.User] = &mongoCollection[models.User]{coll: s.usersColl}
	if breaker != nil {
		tasks = WithBreaker(tasks, breaker)
		users = WithBreaker(users, breaker)
	}
	s.tasks, s.users = tasks, users

	logging.Logger.Infof("Event ID: DB_COLLECTION_SET, Description: Using collections %s/%s and %s/%s (transactions: %t)",
		db.Name(), cfg.TasksCollection, db.Name(), cfg.UsersCollection, cfg.Transactions)
	if !cfg.Transactions {
		logging.Logger.Warn("Event ID: DB_TRANSACTIONS_DISABLED, Description: MongoDB transactions are off; a write that fails part-way through a store outage is not rolled back")
	}
	return s
}

func (s *MongoStore) Tasks() Collection[models.Task] { return s.tasks }
func (s *MongoStore) Users() Collection[models.User] { return s.users }

func (s *MongoStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.transactions {
		return fn(ctx)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	})
	return err
}

// EnsureIndexes creates the unique email index and the indexes backing the
// task/user reference lookups.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	userIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: models.FieldEmail, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_email"),
		},
		{Keys: bson.D{{Key: models.FieldPendingTasks, Value: 1}}},
	}
	if _, err := s.usersColl.Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}

	taskIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: models.FieldAssignedUser, Value: 1}}},
	}
	if _, err := s.tasksColl.Indexes().CreateMany(ctx, taskIndexes); err != nil {
		return fmt.Errorf("failed to create task indexes: %w", err)
	}

	logging.Logger.Info("Event ID: DB_INDEXES_READY, Description: MongoDB indexes ensured")
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type mongoCollection[T any] struct {
	coll *mongo.Collection
}

func (c *mongoCollection[T]) Find(ctx context.Context, q query.Query) ([]bson.M, error) {
	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(q.Sort)
	}
	if len(q.Projection) > 0 {
		opts.SetProjection(q.Projection)
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}

	cursor, err := c.coll.Find(ctx, filterOrEmpty(q.Filter), opts)
	if err != nil {
		return nil, c.wrap("find", err)
	}
	defer cursor.Close(ctx)

	docs := []bson.M{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, c.wrap("decode", err)
	}
	return docs, nil
}

func (c *mongoCollection[T]) FindByID(ctx context.Context, id primitive.ObjectID, projection bson.D) (bson.M, error) {
	opts := options.FindOne()
	if len(projection) > 0 {
		opts.SetProjection(projection)
	}
	var doc bson.M
	if err := c.coll.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc); err != nil {
		return nil, c.wrap("find by id", err)
	}
	return doc, nil
}

func (c *mongoCollection[T]) Get(ctx context.Context, id primitive.ObjectID) (*T, error) {
	return c.FindOne(ctx, bson.M{"_id": id})
}

func (c *mongoCollection[T]) FindOne(ctx context.Context, filter bson.M) (*T, error) {
	var doc T
	if err := c.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, c.wrap("find one", err)
	}
	return &doc, nil
}

func (c *mongoCollection[T]) Count(ctx context.Context, filter bson.M) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, filterOrEmpty(filter))
	if err != nil {
		return 0, c.wrap("count", err)
	}
	return n, nil
}

func (c *mongoCollection[T]) Insert(ctx context.Context, doc *T) error {
	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		return c.wrap("insert", err)
	}
	return nil
}

func (c *mongoCollection[T]) Replace(ctx context.Context, id primitive.ObjectID, doc *T) error {
	res, err := c.coll.ReplaceOne(ctx, bson.M{"_id": id}, doc)
	if err != nil {
		return c.wrap("replace", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s replace %s: %w", c.coll.Name(), id.Hex(), ErrNotFound)
	}
	return nil
}

func (c *mongoCollection[T]) Delete(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := c.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, c.wrap("delete", err)
	}
	return res.DeletedCount > 0, nil
}

func (c *mongoCollection[T]) UpdateByID(ctx context.Context, id primitive.ObjectID, update bson.M) (bool, error) {
	res, err := c.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return false, c.wrap("update", err)
	}
	return res.MatchedCount > 0, nil
}

func (c *mongoCollection[T]) UpdateMany(ctx context.Context, filter bson.M, update bson.M) (int64, error) {
	res, err := c.coll.UpdateMany(ctx, filterOrEmpty(filter), update)
	if err != nil {
		return 0, c.wrap("update many", err)
	}
	return res.MatchedCount, nil
}

// wrap translates driver errors into the package sentinels.
func (c *mongoCollection[T]) wrap(op string, err error) error {
	var cmdErr mongo.CommandError
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s %s: %w", c.coll.Name(), op, ErrNotFound)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s %s: %w: %v", c.coll.Name(), op, ErrDuplicate, err)
	case errors.As(err, &cmdErr) && invalidQueryCodes[cmdErr.Code]:
		return fmt.Errorf("%s %s: %w: %v", c.coll.Name(), op, ErrInvalidQuery, err)
	default:
		return fmt.Errorf("%s %s: %w", c.coll.Name(), op, err)
	}
}

func filterOrEmpty(filter bson.M) bson.M {
	if filter == nil {
		return bson.M{}
	}
	return filter
}
