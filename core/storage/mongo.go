package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// countersCollection holds one document per named sequence.
const countersCollection = "counters"

// MongoStore implements Store with MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	mu     sync.RWMutex

	// entities maps entity names to collection names for lookups
	entities map[string]string

	// collections holds every ensured collection
	collections map[string]Collection
}

// NewMongoStore connects to uri and uses the named database.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := NewMongoStoreFromDatabase(client.Database(database))
	s.client = client
	return s, nil
}

// NewMongoStoreFromDatabase creates a store over an existing database handle.
// Close does not disconnect the caller's client.
func NewMongoStoreFromDatabase(db *mongo.Database) *MongoStore {
	return &MongoStore{
		db:          db,
		entities:    make(map[string]string),
		collections: make(map[string]Collection),
	}
}

// EnsureCollection creates the unique indexes of the collection.
func (s *MongoStore) EnsureCollection(ctx context.Context, c Collection) error {
	if err := c.Validate(); err != nil {
		return err
	}

	models := []mongo.IndexModel{{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("ux_id"),
	}}
	for _, f := range c.Unique {
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: f, Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("ux_" + f),
		})
	}

	if _, err := s.db.Collection(c.Name).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("ensure collection %s: %w", c.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[c.Name] = c
	if c.Entity != "" {
		s.entities[c.Entity] = c.Name
	}

	return nil
}

// NextSequence increments the named counter with an upserting $inc.
func (s *MongoStore) NextSequence(ctx context.Context, name string) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}

	err := s.db.Collection(countersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", name, err)
	}

	return counter.Value, nil
}

// Insert stores a new document.
func (s *MongoStore) Insert(ctx context.Context, collection string, doc map[string]any) (map[string]any, error) {
	if err := s.known(collection); err != nil {
		return nil, err
	}

	out := Project(doc, nil)
	if _, ok := out[InternalID]; !ok {
		out[InternalID] = primitive.NewObjectID()
	}

	if _, err := s.db.Collection(collection).InsertOne(ctx, bson.M(out)); err != nil {
		return nil, convertMongoError("insert", err)
	}

	return out, nil
}

// Find runs the query as an aggregation pipeline.
func (s *MongoStore) Find(ctx context.Context, collection string, q Query) ([]map[string]any, error) {
	if err := s.known(collection); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	pipeline, err := s.buildPipeline(q)
	if err != nil {
		return nil, err
	}

	cur, err := s.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var results []bson.M
	if err := cur.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}

	out := make([]map[string]any, len(results))
	for i, r := range results {
		out[i] = finishMongo(r, q)
	}
	return out, nil
}

// FindOne returns the first matching document, or nil.
func (s *MongoStore) FindOne(ctx context.Context, collection string, q Query) (map[string]any, error) {
	q.Limit = 1
	docs, err := s.Find(ctx, collection, q)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// FindOneAndUpdate sets fields atomically and returns the updated document.
func (s *MongoStore) FindOneAndUpdate(ctx context.Context, collection string, q Query, set map[string]any) (map[string]any, error) {
	if len(set) == 0 {
		return s.FindOne(ctx, collection, q)
	}
	if err := s.known(collection); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if len(q.Sort) > 0 {
		opts.SetSort(sortDoc(q.Sort))
	}

	var updated bson.M
	err := s.db.Collection(collection).FindOneAndUpdate(ctx,
		matchFilter(q.Where), bson.M{"$set": bson.M(set)}, opts).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, convertMongoError("update "+collection, err)
	}

	if len(q.Lookups) == 0 {
		return finishMongo(updated, q), nil
	}

	// Populate the updated document
	return s.FindOne(ctx, collection, Query{
		Where:   Cond{Eq(InternalID, updated[InternalID])},
		Select:  q.Select,
		Lookups: q.Lookups,
	})
}

// Close disconnects the client when the store opened it.
func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) known(collection string) error {
	s.mu.RLock()
	_, ok := s.collections[collection]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return nil
}

// buildPipeline translates a query into $match, $sort, $limit and $lookup stages.
func (s *MongoStore) buildPipeline(q Query) (mongo.Pipeline, error) {
	var pipeline mongo.Pipeline

	if len(q.Where) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: matchFilter(q.Where)}})
	}
	if len(q.Sort) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: sortDoc(q.Sort)}})
	}
	if q.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(q.Limit)}})
	}

	for _, l := range q.Lookups {
		s.mu.RLock()
		from, ok := s.entities[l.From]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("lookup %s: %w: entity %s", l.As, ErrUnknownCollection, l.From)
		}

		pipeline = append(pipeline, bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: from},
			{Key: "localField", Value: l.LocalField},
			{Key: "foreignField", Value: l.ForeignField},
			{Key: "as", Value: l.As},
		}}})

		if l.JustOne {
			pipeline = append(pipeline, bson.D{{Key: "$addFields", Value: bson.D{
				{Key: l.As, Value: bson.D{{Key: "$arrayElemAt", Value: bson.A{"$" + l.As, 0}}}},
			}}})
		}
	}

	return pipeline, nil
}

// matchFilter translates a condition into a filter document.
func matchFilter(c Cond) bson.M {
	if len(c) == 0 {
		return bson.M{}
	}

	clauses := make(bson.A, len(c))
	for i, p := range c {
		value := p.Value
		if values, ok := value.([]any); ok {
			value = bson.A(values)
		}
		clauses[i] = bson.M{p.Field: bson.M{string(p.Op): value}}
	}
	if len(clauses) == 1 {
		return clauses[0].(bson.M)
	}
	return bson.M{"$and": clauses}
}

func sortDoc(sorts []Sort) bson.D {
	d := make(bson.D, len(sorts))
	for i, s := range sorts {
		dir := 1
		if s.Desc {
			dir = -1
		}
		d[i] = bson.E{Key: s.Field, Value: dir}
	}
	return d
}

// finishMongo converts driver types and applies lookup and query selection.
func finishMongo(raw bson.M, q Query) map[string]any {
	doc, _ := normalizeMongo(map[string]any(raw)).(map[string]any)

	for _, l := range q.Lookups {
		v, ok := doc[l.As]
		switch {
		case l.JustOne:
			m, isMap := v.(map[string]any)
			if !ok || !isMap {
				doc[l.As] = nil
				continue
			}
			doc[l.As] = Project(m, l.Select)
		default:
			list, _ := v.([]any)
			out := make([]any, 0, len(list))
			for _, item := range list {
				if m, isMap := item.(map[string]any); isMap {
					out = append(out, Project(m, l.Select))
				}
			}
			doc[l.As] = out
		}
	}

	return Shape(doc, q)
}

// normalizeMongo converts driver-specific types into plain Go values.
func normalizeMongo(v any) any {
	switch t := v.(type) {
	case primitive.M:
		return normalizeMongo(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeMongo(val)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeMongo(e.Value)
		}
		return out
	case primitive.A:
		return normalizeMongo([]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeMongo(val)
		}
		return out
	case int32:
		return int64(t)
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// convertMongoError maps duplicate key errors onto ErrDuplicateKey.
func convertMongoError(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w: %s", op, ErrDuplicateKey, err.Error())
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ Store = (*MongoStore)(nil)
