package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/local-pulse/backend/internal/config"
	"github.com/DeafMist/local-pulse/backend/internal/fanout"
	"github.com/DeafMist/local-pulse/backend/internal/geo"
	"github.com/DeafMist/local-pulse/backend/internal/models"
	"github.com/DeafMist/local-pulse/backend/internal/processing"
	"github.com/DeafMist/local-pulse/backend/internal/store"
)

const (
	defaultRadiusKm = 2.0
	maxRadiusKm     = 50.0
	maxStatsDays    = 365
	maxReportBytes  = 64 * 1024
)

// eventQuerier is the pipeline read path.
type eventQuerier interface {
	Query(ctx context.Context, sel store.Selector) ([]models.CanonicalEvent, error)
}

type eventReader interface {
	Get(ctx context.Context, id string) (models.CanonicalEvent, error)
	Stats(ctx context.Context, q store.AggregateQuery) ([]store.AggregateRow, error)
	Ping(ctx context.Context) error
}

type reportWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type server struct {
	log     *slog.Logger
	cfg     *config.API
	events  eventQuerier
	store   eventReader
	reports reportWriter
	hub     *fanout.Hub
	now     func() time.Time
}

type errorResponse struct {
	Error string `json:"error"`
}

type eventsResponse struct {
	Count  int                     `json:"count"`
	Events []models.CanonicalEvent `json:"events"`
}

type statsResponse struct {
	GroupBy []store.Dimension    `json:"group_by"`
	Days    int                  `json:"days"`
	Rows    []store.AggregateRow `json:"rows"`
}

var dimensions = map[string]store.Dimension{
	"category":    store.DimCategory,
	"severity":    store.DimSeverity,
	"area":        store.DimArea,
	"hour_of_day": store.DimHourOfDay,
	"day_type":    store.DimDayType,
	"day":         store.DimDay,
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sel, err := s.parseSelector(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	events, err := s.events.Query(r.Context(), sel)
	if err != nil {
		s.log.Error("query events", slog.Any("err", err))
		writeJSON(w, storeStatus(err), errorResponse{Error: err.Error()})
		return
	}
	if events == nil {
		events = []models.CanonicalEvent{}
	}

	writeJSON(w, http.StatusOK, eventsResponse{Count: len(events), Events: events})
}

func (s *server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, storeStatus(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	agg := store.AggregateQuery{
		Area:       strings.TrimSpace(q.Get("area")),
		WindowDays: clampInt(q.Get("days"), 7, maxStatsDays),
	}
	if raw := q.Get("category"); raw != "" {
		c, ok := models.ParseCategory(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown category %q", raw)})
			return
		}
		agg.Category = c
	}
	if raw := q.Get("severity"); raw != "" {
		sev, ok := models.ParseSeverity(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown severity %q", raw)})
			return
		}
		agg.Severity = sev
	}
	for _, name := range parseCSV(q.Get("group_by")) {
		dim, ok := dimensions[strings.ToLower(name)]
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown dimension %q", name)})
			return
		}
		agg.GroupBy = append(agg.GroupBy, dim)
	}
	if len(agg.GroupBy) == 0 {
		agg.GroupBy = []store.Dimension{store.DimCategory}
	}

	rows, err := s.store.Stats(r.Context(), agg)
	if err != nil {
		s.log.Error("stats", slog.Any("err", err))
		writeJSON(w, storeStatus(err), errorResponse{Error: err.Error()})
		return
	}
	if rows == nil {
		rows = []store.AggregateRow{}
	}

	writeJSON(w, http.StatusOK, statsResponse{GroupBy: agg.GroupBy, Days: agg.WindowDays, Rows: rows})
}

// handleReport queues a user submission for the worker.
func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	var c models.RawCandidate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReportBytes)).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid report body"})
		return
	}
	if strings.TrimSpace(c.Body()) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "title or text is required"})
		return
	}
	if c.Location != nil && !geo.ValidCoordinates(c.Location.Lat, c.Location.Lon) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid coordinates"})
		return
	}

	c.Source = models.SourceUser
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ObservedAt.IsZero() {
		c.ObservedAt = s.now().UTC()
	}

	value, err := json.Marshal(c)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	msg := kafka.Message{Key: []byte(processing.NormalizeArea(c.AreaName())), Value: value}
	if err := s.reports.WriteMessages(r.Context(), msg); err != nil {
		s.log.Error("queue report", slog.String("id", c.ID), slog.Any("err", err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "report queue unavailable"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": c.ID})
}

// parseSelector picks the read shape: coordinates make a radius read, then a
// category, then an area.
func (s *server) parseSelector(r *http.Request) (store.Selector, error) {
	q := r.URL.Query()

	win := store.Window{Limit: clampInt(q.Get("limit"), s.cfg.DefaultLimit, s.cfg.MaxLimit)}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("since must be RFC3339")
		}
		win.Since = since
	}

	switch {
	case q.Get("lat") != "" || q.Get("lon") != "":
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
		if errLat != nil || errLon != nil || !geo.ValidCoordinates(lat, lon) {
			return nil, fmt.Errorf("lat and lon must both be valid coordinates")
		}
		radius := defaultRadiusKm
		if raw := q.Get("radius_km"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v <= 0 {
				return nil, fmt.Errorf("radius_km must be positive")
			}
			radius = min(v, maxRadiusKm)
		}
		return store.RadiusSelector{Lat: lat, Lon: lon, RadiusKm: radius, Window: win}, nil

	case q.Get("category") != "":
		c, ok := models.ParseCategory(q.Get("category"))
		if !ok {
			return nil, fmt.Errorf("unknown category %q", q.Get("category"))
		}
		sel := store.CategorySeveritySelector{Category: c, Window: win}
		if raw := q.Get("severity"); raw != "" {
			sev, ok := models.ParseSeverity(raw)
			if !ok {
				return nil, fmt.Errorf("unknown severity %q", raw)
			}
			sel.Severity = sev
		}
		return sel, nil

	case strings.TrimSpace(q.Get("area")) != "":
		return store.AreaSelector{Area: strings.TrimSpace(q.Get("area")), Window: win}, nil

	default:
		return nil, fmt.Errorf("one of lat/lon, category or area is required")
	}
}

func storeStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
