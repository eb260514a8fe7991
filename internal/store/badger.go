package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/DeafMist/local-pulse/backend/internal/models"
	"github.com/DeafMist/local-pulse/backend/internal/processing"
)

// Key prefixes. Index keys embed a reversed timestamp so a forward prefix
// scan yields newest first; every key carries the record's TTL.
const (
	eventKeyPrefix    = "ev:"
	areaKeyPrefix     = "area:"
	categoryKeyPrefix = "cat:"
	catSevKeyPrefix   = "cs:"
	recentKeyPrefix   = "recent:"
)

// BadgerOptions configure the embedded hot tier.
type BadgerOptions struct {
	Path     string
	InMemory bool
	Now      func() time.Time
}

// BadgerHot is the hot tier on an embedded Badger database, for single-node
// deployments and tests.
type BadgerHot struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadgerHot opens (or creates) the database.
func OpenBadgerHot(opts BadgerOptions) (*BadgerHot, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &BadgerHot{db: db, now: now}, nil
}

func revTimestamp(t time.Time) string {
	return fmt.Sprintf("%019d", math.MaxInt64-t.UnixNano())
}

func indexKeys(ev models.CanonicalEvent) []string {
	ts := revTimestamp(ev.CreatedAt)
	suffix := ":" + ts + ":" + ev.ID
	return []string{
		areaKeyPrefix + processing.NormalizeArea(ev.Area) + suffix,
		categoryKeyPrefix + string(ev.Category) + suffix,
		catSevKeyPrefix + string(ev.Category) + ":" + string(ev.Severity) + suffix,
		recentKeyPrefix + ts + ":" + ev.ID,
	}
}

func (b *BadgerHot) Put(_ context.Context, ev models.CanonicalEvent, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("put %s: %w", ev.ID, ErrExpired)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry([]byte(eventKeyPrefix+ev.ID), data).WithTTL(ttl)); err != nil {
			return fmt.Errorf("set event: %w", err)
		}
		for _, key := range indexKeys(ev) {
			if err := txn.SetEntry(badger.NewEntry([]byte(key), []byte(ev.ID)).WithTTL(ttl)); err != nil {
				return fmt.Errorf("set index: %w", err)
			}
		}
		return nil
	})
}

func (b *BadgerHot) GetByID(_ context.Context, id string) (models.CanonicalEvent, error) {
	var ev models.CanonicalEvent
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		ev, err = b.load(txn, id)
		return err
	})
	if err != nil {
		return models.CanonicalEvent{}, err
	}
	return ev, nil
}

func (b *BadgerHot) QueryByArea(_ context.Context, area string, limit int) ([]models.CanonicalEvent, error) {
	return b.scan(areaKeyPrefix+processing.NormalizeArea(area)+":", limit)
}

func (b *BadgerHot) QueryByCategorySeverity(_ context.Context, category models.Category, severity models.Severity, limit int) ([]models.CanonicalEvent, error) {
	if severity == "" {
		return b.scan(categoryKeyPrefix+string(category)+":", limit)
	}
	return b.scan(catSevKeyPrefix+string(category)+":"+string(severity)+":", limit)
}

func (b *BadgerHot) QueryRecent(_ context.Context, limit int) ([]models.CanonicalEvent, error) {
	return b.scan(recentKeyPrefix, limit)
}

// DeleteExpired drops records Badger has not yet expired on its own; index
// keys share the record's TTL and lapse by themselves.
func (b *BadgerHot) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var expired []string
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(eventKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ev models.CanonicalEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			if ev.Expired(now) {
				expired = append(expired, ev.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan expired: %w", err)
	}

	var deleted int64
	for _, id := range expired {
		err := b.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(eventKeyPrefix + id))
		})
		if err != nil {
			return deleted, fmt.Errorf("delete %s: %w", id, err)
		}
		deleted++
	}
	return deleted, nil
}

func (b *BadgerHot) Ping(context.Context) error {
	if b.db.IsClosed() {
		return ErrUnavailable
	}
	return nil
}

func (b *BadgerHot) Close(context.Context) error {
	return b.db.Close()
}

func (b *BadgerHot) load(txn *badger.Txn, id string) (models.CanonicalEvent, error) {
	var ev models.CanonicalEvent
	item, err := txn.Get([]byte(eventKeyPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ev, ErrNotFound
	}
	if err != nil {
		return ev, fmt.Errorf("get %s: %w", id, err)
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ev)
	}); err != nil {
		return ev, fmt.Errorf("decode %s: %w", id, err)
	}
	if ev.Expired(b.now()) {
		return models.CanonicalEvent{}, ErrNotFound
	}
	return ev, nil
}

// scan walks an index prefix newest first. An id indexed twice (re-put with
// a new timestamp) is returned once.
func (b *BadgerHot) scan(prefix string, limit int) ([]models.CanonicalEvent, error) {
	var events []models.CanonicalEvent
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		seen := make(map[string]struct{})
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			key := string(it.Item().Key())
			id := key[strings.LastIndexByte(key, ':')+1:]
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			ev, err := b.load(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			events = append(events, ev)
			if limit > 0 && len(events) == limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	return events, nil
}
