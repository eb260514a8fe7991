package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Hot tier backends.
const (
	HotMongo  = "mongo"
	HotBadger = "badger"
)

// Common contains storage and broker parameters shared by every service.
type Common struct {
	MongoURI           string
	MongoDB            string
	HotCollection      string
	ElasticsearchAddr  string
	ElasticsearchIndex string
	HotStore           string
	BadgerPath         string
	KafkaBrokers       []string
	LiveTopic          string
}

// Tiering tunes the read fallback of the tiered store.
type Tiering struct {
	Freshness    time.Duration
	MinResults   int
	HighActivity []string
	OverFetch    int
	DefaultLimit int
}

// Enrichment configures the gateway in front of the AI collaborator. An
// empty URL runs every call on the local fallback.
type Enrichment struct {
	URL             string
	APIKey          string
	Timeout         time.Duration
	RPS             float64
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	Sentiment       bool
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	Tiering
	BindAddr     string
	MaxLimit     int
	ReportsTopic string
	RelayGroupID string
}

// Worker holds configuration for the Kafka -> pipeline worker.
type Worker struct {
	Common
	Tiering
	Enrichment
	KafkaTopic     string
	KafkaConsumer  string
	DedupeCapacity int
	DedupeTTL      time.Duration
	BatchSize      int
	FlushInterval  time.Duration
}

// Poller configures the fetch scheduler.
type Poller struct {
	Common
	Tiering
	Enrichment
	MetricsAddr         string
	LocationsCollection string
	LocationsFile       string
	FeedURL             string
	FeedRadiusKm        float64
	HighInterval        time.Duration
	HighWindow          time.Duration
	MediumInterval      time.Duration
	MediumWindow        time.Duration
	EmergencyInterval   time.Duration
	AlertMemory         time.Duration
}

// Retention configures the hot-tier sweep loop.
type Retention struct {
	Common
	Interval time.Duration
	Timeout  time.Duration
}

func loadCommon() (Common, error) {
	c := Common{
		MongoURI:           getEnv("MONGO_URI", "mongodb://mongo:27017"),
		MongoDB:            getEnv("MONGO_DB", "pulse"),
		HotCollection:      getEnv("MONGO_HOT_COLLECTION", "events_hot"),
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "events"),
		HotStore:           strings.ToLower(getEnv("HOT_STORE", HotMongo)),
		BadgerPath:         getEnv("BADGER_PATH", "/var/lib/pulse/hot"),
		KafkaBrokers:       splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		LiveTopic:          getEnv("LIVE_TOPIC", "events_live"),
	}

	switch c.HotStore {
	case HotMongo, HotBadger:
	default:
		return c, fmt.Errorf("HOT_STORE must be %q or %q, got %q", HotMongo, HotBadger, c.HotStore)
	}
	if len(c.KafkaBrokers) == 0 {
		return c, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	return c, nil
}

func loadTiering() (Tiering, error) {
	t := Tiering{
		Freshness:    getDuration("STORE_FRESHNESS", "6h"),
		MinResults:   getInt("STORE_MIN_RESULTS", 3),
		HighActivity: splitAndTrim(getEnv("STORE_HIGH_ACTIVITY", "")),
		OverFetch:    getInt("STORE_OVERFETCH", 5),
		DefaultLimit: getInt("STORE_DEFAULT_LIMIT", 20),
	}

	if t.Freshness <= 0 {
		return t, fmt.Errorf("STORE_FRESHNESS must be positive")
	}
	if t.MinResults < 0 {
		return t, fmt.Errorf("STORE_MIN_RESULTS cannot be negative")
	}
	if t.OverFetch < 1 {
		return t, fmt.Errorf("STORE_OVERFETCH must be at least 1")
	}
	if t.DefaultLimit <= 0 {
		return t, fmt.Errorf("STORE_DEFAULT_LIMIT must be positive")
	}
	return t, nil
}

func loadEnrichment() (Enrichment, error) {
	e := Enrichment{
		URL:             getEnv("ENRICH_URL", ""),
		APIKey:          getEnv("ENRICH_API_KEY", ""),
		Timeout:         getDuration("ENRICH_TIMEOUT", "5s"),
		RPS:             getFloat("ENRICH_RPS", 5),
		Burst:           getInt("ENRICH_BURST", 10),
		BreakerFailures: getInt("ENRICH_BREAKER_FAILURES", 5),
		BreakerCooldown: getDuration("ENRICH_BREAKER_COOLDOWN", "30s"),
		Sentiment:       getBool("PIPELINE_SENTIMENT", false),
	}

	if e.Timeout <= 0 {
		return e, fmt.Errorf("ENRICH_TIMEOUT must be positive")
	}
	if e.RPS < 0 {
		return e, fmt.Errorf("ENRICH_RPS cannot be negative")
	}
	if e.RPS > 0 && e.Burst <= 0 {
		return e, fmt.Errorf("ENRICH_BURST must be positive when ENRICH_RPS is set")
	}
	if e.BreakerFailures <= 0 {
		return e, fmt.Errorf("ENRICH_BREAKER_FAILURES must be positive")
	}
	return e, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}
	tiering, err := loadTiering()
	if err != nil {
		return nil, err
	}

	c := &API{
		Common:       common,
		Tiering:      tiering,
		BindAddr:     getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		MaxLimit:     getInt("API_MAX_LIMIT", 100),
		ReportsTopic: getEnv("KAFKA_TOPIC", "reports_raw"),
		RelayGroupID: getEnv("API_RELAY_GROUP", ""),
	}

	if c.MaxLimit <= 0 {
		return nil, fmt.Errorf("API_MAX_LIMIT must be positive")
	}
	if c.DefaultLimit > c.MaxLimit {
		return nil, fmt.Errorf("STORE_DEFAULT_LIMIT cannot exceed API_MAX_LIMIT")
	}

	return c, nil
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}
	tiering, err := loadTiering()
	if err != nil {
		return nil, err
	}
	enrichment, err := loadEnrichment()
	if err != nil {
		return nil, err
	}

	c := &Worker{
		Common:         common,
		Tiering:        tiering,
		Enrichment:     enrichment,
		KafkaTopic:     getEnv("KAFKA_TOPIC", "reports_raw"),
		KafkaConsumer:  getEnv("KAFKA_CONSUMER_GROUP", "pulse-worker"),
		DedupeCapacity: getInt("WORKER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:      getDuration("WORKER_DEDUPE_TTL", "24h"),
		BatchSize:      getInt("WORKER_BATCH_SIZE", 20),
		FlushInterval:  getDuration("WORKER_FLUSH_INTERVAL", "2s"),
	}

	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.FlushInterval <= 0 {
		return nil, fmt.Errorf("WORKER_FLUSH_INTERVAL must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}

	return c, nil
}

// LoadPoller builds a Poller config from environment variables.
func LoadPoller() (*Poller, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}
	tiering, err := loadTiering()
	if err != nil {
		return nil, err
	}
	enrichment, err := loadEnrichment()
	if err != nil {
		return nil, err
	}

	c := &Poller{
		Common:              common,
		Tiering:             tiering,
		Enrichment:          enrichment,
		MetricsAddr:         getEnv("POLLER_METRICS_ADDR", "0.0.0.0:9102"),
		LocationsCollection: getEnv("MONGO_LOCATIONS_COLLECTION", "locations"),
		LocationsFile:       getEnv("POLLER_LOCATIONS_FILE", ""),
		FeedURL:             getEnv("POLLER_FEED_URL", "http://feeds:8090/v1/reports"),
		FeedRadiusKm:        getFloat("POLLER_FEED_RADIUS_KM", 3),
		HighInterval:        getDuration("POLLER_HIGH_INTERVAL", "5m"),
		HighWindow:          getDuration("POLLER_HIGH_WINDOW", "10m"),
		MediumInterval:      getDuration("POLLER_MEDIUM_INTERVAL", "15m"),
		MediumWindow:        getDuration("POLLER_MEDIUM_WINDOW", "30m"),
		EmergencyInterval:   getDuration("POLLER_EMERGENCY_INTERVAL", "2m"),
		AlertMemory:         getDuration("POLLER_ALERT_MEMORY", "6h"),
	}

	for name, d := range map[string]time.Duration{
		"POLLER_HIGH_INTERVAL":      c.HighInterval,
		"POLLER_HIGH_WINDOW":        c.HighWindow,
		"POLLER_MEDIUM_INTERVAL":    c.MediumInterval,
		"POLLER_MEDIUM_WINDOW":      c.MediumWindow,
		"POLLER_EMERGENCY_INTERVAL": c.EmergencyInterval,
		"POLLER_ALERT_MEMORY":       c.AlertMemory,
	} {
		if d <= 0 {
			return nil, fmt.Errorf("%s must be positive", name)
		}
	}
	if c.FeedURL == "" {
		return nil, fmt.Errorf("POLLER_FEED_URL is required")
	}
	if c.FeedRadiusKm <= 0 {
		return nil, fmt.Errorf("POLLER_FEED_RADIUS_KM must be positive")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}

	c := &Retention{
		Common:   common,
		Interval: getDuration("RETENTION_CRON", "15m"),
		Timeout:  getDuration("RETENTION_TIMEOUT", "2m"),
	}

	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}
	if c.Timeout <= 0 {
		return nil, fmt.Errorf("RETENTION_TIMEOUT must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
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
