// Package elasticsearch is the cold tier: an append-only event index queried
// with filters and composite aggregations.
package elasticsearch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/goccy/go-json"

	"github.com/DeafMist/local-pulse/backend/internal/models"
	"github.com/DeafMist/local-pulse/backend/internal/processing"
	"github.com/DeafMist/local-pulse/backend/internal/store"
)

const (
	maxSearchSize     = 500
	compositePageSize = 500
)

// Client wraps go-elasticsearch with the cold-tier operations.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
	now   func() time.Time
}

// document is the indexed shape: the event plus fields derived for
// aggregation and geo filtering.
type document struct {
	models.CanonicalEvent
	AreaKey   string    `json:"area_key"`
	Pin       *geoPoint `json:"pin,omitempty"`
	HourOfDay int       `json:"hour_of_day"`
	DayType   string    `json:"day_type"`
	Day       string    `json:"day"`
}

type geoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func newDocument(ev models.CanonicalEvent) document {
	created := ev.CreatedAt.UTC()
	doc := document{
		CanonicalEvent: ev,
		AreaKey:        processing.NormalizeArea(ev.Area),
		HourOfDay:      created.Hour(),
		DayType:        "weekday",
		Day:            created.Format("2006-01-02"),
	}
	if wd := created.Weekday(); wd == time.Saturday || wd == time.Sunday {
		doc.DayType = "weekend"
	}
	if ev.Location != nil {
		doc.Pin = &geoPoint{Lat: ev.Location.Lat, Lon: ev.Location.Lon}
	}
	return doc
}

// New instantiates the Elasticsearch client.
func New(addr, index string, logger *slog.Logger) (*Client, error) {
	return NewWithTransport(addr, index, nil, logger)
}

// NewWithTransport is New with a custom HTTP transport.
func NewWithTransport(addr, index string, transport http.RoundTripper, logger *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
		Transport: transport,
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{es: es, index: index, log: logger, now: time.Now}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

var indexMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"id":          map[string]any{"type": "keyword"},
			"title":       map[string]any{"type": "text"},
			"description": map[string]any{"type": "text"},
			"summary":     map[string]any{"type": "text"},
			"area":        map[string]any{"type": "keyword"},
			"area_key":    map[string]any{"type": "keyword"},
			"category":    map[string]any{"type": "keyword"},
			"severity":    map[string]any{"type": "keyword"},
			"source":      map[string]any{"type": "keyword"},
			"keywords":    map[string]any{"type": "keyword"},
			"pin":         map[string]any{"type": "geo_point"},
			"hour_of_day": map[string]any{"type": "integer"},
			"day_type":    map[string]any{"type": "keyword"},
			"day":         map[string]any{"type": "keyword"},
			"created_at":  map[string]any{"type": "date"},
			"expires_at":  map[string]any{"type": "date"},
			"metadata":    map[string]any{"type": "object", "enabled": false},
		},
	},
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	payload, err := json.Marshal(indexMapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	res, err = c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index failed: %s", strings.TrimSpace(string(body)))
	}
	c.log.Info("cold index created", slog.String("index", c.index))
	return nil
}

// Append writes ev once; appending an id that already exists is a no-op.
func (c *Client) Append(ctx context.Context, ev models.CanonicalEvent) error {
	payload, err := json.Marshal(newDocument(ev))
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: ev.ID,
		Body:       bytes.NewReader(payload),
		OpType:     "create",
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index doc: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusConflict {
		return nil
	}
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index doc failed: %s", strings.TrimSpace(string(body)))
	}

	return nil
}

// Get fetches one document by id.
func (c *Client) Get(ctx context.Context, id string) (models.CanonicalEvent, error) {
	res, err := c.es.Get(c.index, id, c.es.Get.WithContext(ctx))
	if err != nil {
		return models.CanonicalEvent{}, fmt.Errorf("get doc: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return models.CanonicalEvent{}, store.ErrNotFound
	}
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return models.CanonicalEvent{}, fmt.Errorf("get doc failed: %s", strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Source models.CanonicalEvent `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return models.CanonicalEvent{}, fmt.Errorf("decode get response: %w", err)
	}
	return parsed.Source, nil
}

func (c *Client) filters(sel store.Selector) []map[string]any {
	filters := make([]map[string]any, 0, 3)

	switch s := sel.(type) {
	case store.AreaSelector:
		filters = append(filters, term("area_key", processing.NormalizeArea(s.Area)))
	case store.CategorySeveritySelector:
		filters = append(filters, term("category", string(s.Category)))
		if s.Severity != "" {
			filters = append(filters, term("severity", string(s.Severity)))
		}
	case store.RadiusSelector:
		filters = append(filters, map[string]any{
			"geo_distance": map[string]any{
				"distance": fmt.Sprintf("%gkm", s.RadiusKm),
				"pin":      geoPoint{Lat: s.Lat, Lon: s.Lon},
			},
		})
	}

	if since := store.WindowOf(sel).Since; !since.IsZero() {
		filters = append(filters, map[string]any{
			"range": map[string]any{
				"created_at": map[string]any{"gte": since.UTC().Format(time.RFC3339)},
			},
		})
	}
	return filters
}

func term(field, value string) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

// Search returns the newest documents matching sel.
func (c *Client) Search(ctx context.Context, sel store.Selector) ([]models.CanonicalEvent, error) {
	size := store.WindowOf(sel).Limit
	if size <= 0 {
		size = 20
	}
	if size > maxSearchSize {
		size = maxSearchSize
	}

	body := map[string]any{
		"size": size,
		"query": map[string]any{
			"bool": map[string]any{"filter": c.filters(sel)},
		},
		"sort": []map[string]any{
			{"created_at": map[string]any{"order": "desc"}},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source models.CanonicalEvent `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]models.CanonicalEvent, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
	}
	return items, nil
}

// Aggregate counts documents per combination of q.GroupBy over the last
// q.WindowDays, paging through a composite aggregation.
func (c *Client) Aggregate(ctx context.Context, q store.AggregateQuery) ([]store.AggregateRow, error) {
	if len(q.GroupBy) == 0 {
		return nil, fmt.Errorf("aggregate: no group-by dimensions")
	}

	filters := []map[string]any{}
	if q.Category != "" {
		filters = append(filters, term("category", string(q.Category)))
	}
	if q.Severity != "" {
		filters = append(filters, term("severity", string(q.Severity)))
	}
	if q.Area != "" {
		filters = append(filters, term("area_key", processing.NormalizeArea(q.Area)))
	}
	if q.WindowDays > 0 {
		from := c.now().AddDate(0, 0, -q.WindowDays).UTC().Format(time.RFC3339)
		filters = append(filters, map[string]any{
			"range": map[string]any{"created_at": map[string]any{"gte": from}},
		})
	}

	sources := make([]map[string]any, 0, len(q.GroupBy))
	for _, dim := range q.GroupBy {
		sources = append(sources, map[string]any{
			string(dim): map[string]any{"terms": map[string]any{"field": string(dim)}},
		})
	}

	var (
		rows  []store.AggregateRow
		after map[string]any
	)
	for {
		composite := map[string]any{"size": compositePageSize, "sources": sources}
		if after != nil {
			composite["after"] = after
		}
		body := map[string]any{
			"size":  0,
			"query": map[string]any{"bool": map[string]any{"filter": filters}},
			"aggs":  map[string]any{"buckets": map[string]any{"composite": composite}},
		}

		page, next, err := c.aggregatePage(ctx, body)
		if err != nil {
			return rows, err
		}
		rows = append(rows, page...)
		if next == nil || len(page) == 0 {
			break
		}
		after = next
	}
	return rows, nil
}

func (c *Client) aggregatePage(ctx context.Context, body map[string]any) ([]store.AggregateRow, map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal aggregate body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("aggregate: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, nil, fmt.Errorf("aggregate failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Aggregations struct {
			Buckets struct {
				AfterKey map[string]any `json:"after_key"`
				Buckets  []struct {
					Key      map[string]any `json:"key"`
					DocCount int64          `json:"doc_count"`
				} `json:"buckets"`
			} `json:"buckets"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, nil, fmt.Errorf("decode aggregate response: %w", err)
	}

	rows := make([]store.AggregateRow, 0, len(parsed.Aggregations.Buckets.Buckets))
	for _, b := range parsed.Aggregations.Buckets.Buckets {
		keys := make(map[store.Dimension]string, len(b.Key))
		for k, v := range b.Key {
			keys[store.Dimension(k)] = fmt.Sprint(v)
		}
		rows = append(rows, store.AggregateRow{Keys: keys, Count: b.DocCount})
	}
	return rows, parsed.Aggregations.Buckets.AfterKey, nil
}

var _ store.ColdStore = (*Client)(nil)
