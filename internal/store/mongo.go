package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/DeafMist/local-pulse/backend/internal/models"
	"github.com/DeafMist/local-pulse/backend/internal/processing"
)

// ConnectMongo dials uri, pings the primary and returns the named database.
func ConnectMongo(ctx context.Context, uri, dbName string) (*mongo.Database, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return cli.Database(dbName), nil
}

// hotDocument is the stored shape: the event plus its area slug.
type hotDocument struct {
	models.CanonicalEvent `bson:",inline"`
	AreaKey               string `bson:"area_key"`
}

// MongoHot is the hot tier on MongoDB. A TTL index on expires_at removes
// records in the background; reads also filter on expires_at because the
// TTL monitor runs only once a minute.
type MongoHot struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoHot ensures indexes on the collection and returns the store.
func NewMongoHot(ctx context.Context, db *mongo.Database, collection string) (*MongoHot, error) {
	h := &MongoHot{coll: db.Collection(collection), now: time.Now}
	if err := h.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *MongoHot) ensureIndexes(ctx context.Context) error {
	_, err := h.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
		{Keys: bson.D{{Key: "area_key", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "severity", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create hot indexes: %w", err)
	}
	return nil
}

func (h *MongoHot) Put(ctx context.Context, ev models.CanonicalEvent, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("put %s: %w", ev.ID, ErrExpired)
	}
	doc := hotDocument{CanonicalEvent: ev, AreaKey: processing.NormalizeArea(ev.Area)}
	_, err := h.coll.ReplaceOne(ctx, bson.M{"_id": ev.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put %s: %w", ev.ID, err)
	}
	return nil
}

func (h *MongoHot) GetByID(ctx context.Context, id string) (models.CanonicalEvent, error) {
	var doc hotDocument
	err := h.coll.FindOne(ctx, h.live(bson.M{"_id": id})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.CanonicalEvent{}, ErrNotFound
	}
	if err != nil {
		return models.CanonicalEvent{}, fmt.Errorf("get %s: %w", id, err)
	}
	return doc.event(), nil
}

func (h *MongoHot) QueryByArea(ctx context.Context, area string, limit int) ([]models.CanonicalEvent, error) {
	return h.find(ctx, bson.M{"area_key": processing.NormalizeArea(area)}, limit)
}

func (h *MongoHot) QueryByCategorySeverity(ctx context.Context, category models.Category, severity models.Severity, limit int) ([]models.CanonicalEvent, error) {
	filter := bson.M{"category": category}
	if severity != "" {
		filter["severity"] = severity
	}
	return h.find(ctx, filter, limit)
}

func (h *MongoHot) QueryRecent(ctx context.Context, limit int) ([]models.CanonicalEvent, error) {
	return h.find(ctx, bson.M{}, limit)
}

func (h *MongoHot) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := h.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return res.DeletedCount, nil
}

func (h *MongoHot) Ping(ctx context.Context) error {
	if err := h.coll.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

func (h *MongoHot) Close(ctx context.Context) error {
	return h.coll.Database().Client().Disconnect(ctx)
}

func (h *MongoHot) live(filter bson.M) bson.M {
	filter["expires_at"] = bson.M{"$gt": h.now().UTC()}
	return filter
}

func (h *MongoHot) find(ctx context.Context, filter bson.M, limit int) ([]models.CanonicalEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := h.coll.Find(ctx, h.live(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	defer cur.Close(ctx)

	var docs []hotDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}

	events := make([]models.CanonicalEvent, 0, len(docs))
	for _, d := range docs {
		events = append(events, d.event())
	}
	return events, nil
}

// event undoes the bson array wrapping of metadata values.
func (d hotDocument) event() models.CanonicalEvent {
	ev := d.CanonicalEvent
	for k, v := range ev.Metadata {
		if arr, ok := v.(primitive.A); ok {
			ev.Metadata[k] = []any(arr)
		}
	}
	return ev
}
