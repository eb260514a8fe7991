// Package bootstrap opens the storage and enrichment stack the binaries share.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/time/rate"

	"github.com/DeafMist/local-pulse/backend/internal/config"
	"github.com/DeafMist/local-pulse/backend/internal/elasticsearch"
	"github.com/DeafMist/local-pulse/backend/internal/enrich"
	"github.com/DeafMist/local-pulse/backend/internal/store"
)

// Stores bundles both tiers and the tiered front over them.
type Stores struct {
	Hot    store.HotStore
	Cold   *elasticsearch.Client
	Tiered *store.Tiered

	cfg config.Common
	db  *mongo.Database
	// ownsDB is set when db was dialled for something other than the hot
	// tier, which otherwise disconnects it on Close.
	ownsDB bool
}

// OpenStores connects the hot tier selected by HOT_STORE and the
// Elasticsearch cold tier, creating the cold index if needed.
func OpenStores(ctx context.Context, c config.Common, t config.Tiering, log *slog.Logger) (*Stores, error) {
	hot, db, err := OpenHot(ctx, c)
	if err != nil {
		return nil, err
	}
	s := &Stores{Hot: hot, cfg: c, db: db}

	cold, err := elasticsearch.New(c.ElasticsearchAddr, c.ElasticsearchIndex, log)
	if err != nil {
		_ = s.Hot.Close(ctx)
		return nil, fmt.Errorf("init elasticsearch: %w", err)
	}
	if err := cold.EnsureIndex(ctx); err != nil {
		// The cold tier is best effort; reads and writes degrade to hot only.
		log.Warn("ensure cold index", slog.Any("err", err))
	}
	s.Cold = cold

	s.Tiered = store.NewTiered(s.Hot, cold, store.TieredOptions{
		Freshness:    t.Freshness,
		MinResults:   t.MinResults,
		HighActivity: t.HighActivity,
		OverFetch:    t.OverFetch,
		DefaultLimit: t.DefaultLimit,
		Logger:       log,
	})
	return s, nil
}

// OpenHot opens the hot tier selected by HOT_STORE. The database is nil for
// Badger. Closing the returned store releases the Mongo connection.
func OpenHot(ctx context.Context, c config.Common) (store.HotStore, *mongo.Database, error) {
	if c.HotStore == config.HotBadger {
		hot, err := store.OpenBadgerHot(store.BadgerOptions{Path: c.BadgerPath})
		if err != nil {
			return nil, nil, err
		}
		return hot, nil, nil
	}

	db, err := store.ConnectMongo(ctx, c.MongoURI, c.MongoDB)
	if err != nil {
		return nil, nil, err
	}
	hot, err := store.NewMongoHot(ctx, db, c.HotCollection)
	if err != nil {
		_ = db.Client().Disconnect(ctx)
		return nil, nil, err
	}
	return hot, db, nil
}

// Database returns the MongoDB database, dialling it when the hot tier does
// not already hold a connection.
func (s *Stores) Database(ctx context.Context) (*mongo.Database, error) {
	if s.db != nil {
		return s.db, nil
	}
	db, err := store.ConnectMongo(ctx, s.cfg.MongoURI, s.cfg.MongoDB)
	if err != nil {
		return nil, err
	}
	s.db = db
	s.ownsDB = true
	return db, nil
}

// Close drains pending cold writes and releases both connections.
func (s *Stores) Close(ctx context.Context) error {
	var errs []error
	if s.Tiered != nil {
		errs = append(errs, s.Tiered.Close(ctx))
	}
	if s.Hot != nil {
		errs = append(errs, s.Hot.Close(ctx))
	}
	if s.ownsDB {
		errs = append(errs, s.db.Client().Disconnect(ctx))
	}
	return errors.Join(errs...)
}

// Gateway builds the enrichment gateway. Without ENRICH_URL every call uses
// the local fallback.
func Gateway(e config.Enrichment, log *slog.Logger) *enrich.Gateway {
	var collab enrich.Collaborator
	if e.URL != "" {
		collab = enrich.NewHTTPCollaborator(e.URL, e.APIKey, &http.Client{Timeout: 2 * e.Timeout})
	} else {
		log.Warn("ENRICH_URL not set, enrichment runs on fallbacks only")
	}

	var limiter *rate.Limiter
	if e.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.RPS), e.Burst)
	}

	return enrich.NewGateway(collab, enrich.Options{
		Timeout:         e.Timeout,
		Limiter:         limiter,
		BreakerFailures: uint32(e.BreakerFailures),
		BreakerCooldown: e.BreakerCooldown,
		Logger:          log,
	})
}
