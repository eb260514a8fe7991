package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/yaml.v3"

	"github.com/DeafMist/local-pulse/backend/internal/geo"
	"github.com/DeafMist/local-pulse/backend/internal/models"
)

// LocationStore is the registry of polling targets. Locations are never
// deleted, only deactivated.
type LocationStore interface {
	ListActive(ctx context.Context, tier models.PriorityTier) ([]models.SourceLocation, error)
	ListAllActive(ctx context.Context) ([]models.SourceLocation, error)
	// RecordFetch stamps a finished attempt and adds to the counters.
	RecordFetch(ctx context.Context, id string, at time.Time, events int) error
	Register(ctx context.Context, loc models.SourceLocation) error
}

// MongoLocations keeps SourceLocations in a MongoDB collection.
type MongoLocations struct {
	coll *mongo.Collection
}

func NewMongoLocations(ctx context.Context, db *mongo.Database, collection string) (*MongoLocations, error) {
	m := &MongoLocations{coll: db.Collection(collection)}
	_, err := m.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "active", Value: 1}, {Key: "tier", Value: 1}}},
		{Keys: bson.D{{Key: "last_fetched_at", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create location indexes: %w", err)
	}
	return m, nil
}

func (m *MongoLocations) ListActive(ctx context.Context, tier models.PriorityTier) ([]models.SourceLocation, error) {
	return m.list(ctx, bson.M{"active": true, "tier": tier})
}

func (m *MongoLocations) ListAllActive(ctx context.Context) ([]models.SourceLocation, error) {
	return m.list(ctx, bson.M{
		"active": true,
		"tier":   bson.M{"$in": []models.PriorityTier{models.TierHigh, models.TierMedium}},
	})
}

func (m *MongoLocations) list(ctx context.Context, filter bson.M) ([]models.SourceLocation, error) {
	cur, err := m.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find locations: %w", err)
	}
	defer cur.Close(ctx)

	var out []models.SourceLocation
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode locations: %w", err)
	}
	return out, nil
}

func (m *MongoLocations) RecordFetch(ctx context.Context, id string, at time.Time, events int) error {
	res, err := m.coll.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{"last_fetched_at": at.UTC()},
		"$inc": bson.M{"fetch_count": 1, "event_count": events},
	})
	if err != nil {
		return fmt.Errorf("record fetch %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("record fetch %s: %w", id, ErrUnknownLocation)
	}
	return nil
}

// Register upserts the descriptive fields of loc and leaves fetch
// bookkeeping of an existing location untouched.
func (m *MongoLocations) Register(ctx context.Context, loc models.SourceLocation) error {
	if err := validateLocation(loc); err != nil {
		return err
	}
	_, err := m.coll.UpdateByID(ctx, loc.ID, bson.M{
		"$set": bson.M{
			"name":   loc.Name,
			"lat":    loc.Lat,
			"lon":    loc.Lon,
			"area":   loc.Area,
			"city":   loc.City,
			"region": loc.Region,
			"tier":   loc.Tier,
			"active": loc.Active,
		},
		"$setOnInsert": bson.M{"fetch_count": 0, "event_count": 0},
	}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("register location %s: %w", loc.ID, err)
	}
	return nil
}

var ErrUnknownLocation = errors.New("unknown location")

func validateLocation(loc models.SourceLocation) error {
	if strings.TrimSpace(loc.ID) == "" {
		return errors.New("location id is required")
	}
	if !geo.ValidCoordinates(loc.Lat, loc.Lon) {
		return fmt.Errorf("location %s: coordinates out of range", loc.ID)
	}
	return nil
}

type seedFile struct {
	Locations []models.SourceLocation `yaml:"locations"`
}

// LoadSeed reads locations from a YAML file of the form
//
//	locations:
//	  - id: koramangala
//	    name: Koramangala
//	    lat: 12.9352
//	    lon: 77.6245
//	    area: Koramangala
//	    city: Bengaluru
//	    tier: high
//	    active: true
func LoadSeed(path string) ([]models.SourceLocation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i := range f.Locations {
		f.Locations[i].Tier = models.ParseTier(string(f.Locations[i].Tier))
		if err := validateLocation(f.Locations[i]); err != nil {
			return nil, fmt.Errorf("seed entry %d: %w", i, err)
		}
	}
	return f.Locations, nil
}

// SeedFromFile registers every location of the YAML file.
func SeedFromFile(ctx context.Context, store LocationStore, path string) (int, error) {
	locs, err := LoadSeed(path)
	if err != nil {
		return 0, err
	}
	for i, loc := range locs {
		if err := store.Register(ctx, loc); err != nil {
			return i, err
		}
	}
	return len(locs), nil
}
