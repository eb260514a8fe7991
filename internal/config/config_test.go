package config_test

import (
	"testing"
	"time"

	"github.com/DeafMist/local-pulse/backend/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkerDefaults(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "")
	t.Setenv("ELASTICSEARCH_INDEX", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("KAFKA_TOPIC", "")
	t.Setenv("KAFKA_CONSUMER_GROUP", "")
	t.Setenv("HOT_STORE", "")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Equal(t, "http://elasticsearch:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "events", cfg.ElasticsearchIndex)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, "reports_raw", cfg.KafkaTopic)
	require.Equal(t, "pulse-worker", cfg.KafkaConsumer)
	require.Equal(t, config.HotMongo, cfg.HotStore)
	require.Equal(t, 6*time.Hour, cfg.Freshness)
	require.Equal(t, 3, cfg.MinResults)
	require.Equal(t, 5, cfg.OverFetch)
	require.Equal(t, 5*time.Second, cfg.Enrichment.Timeout)
	require.False(t, cfg.Sentiment)
	require.Empty(t, cfg.URL)
}

func TestLoadWorkerOverrides(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "http://localhost:9999")
	t.Setenv("KAFKA_BROKERS", "broker-a:29092, broker-b:29093")
	t.Setenv("KAFKA_TOPIC", "custom_topic")
	t.Setenv("KAFKA_CONSUMER_GROUP", "custom-group")
	t.Setenv("HOT_STORE", "Badger")
	t.Setenv("BADGER_PATH", "/tmp/hot")
	t.Setenv("WORKER_DEDUPE_CAPACITY", "5")
	t.Setenv("WORKER_DEDUPE_TTL", "48h")
	t.Setenv("WORKER_BATCH_SIZE", "3")
	t.Setenv("WORKER_FLUSH_INTERVAL", "5s")
	t.Setenv("ENRICH_URL", "http://ai:8000")
	t.Setenv("ENRICH_TIMEOUT", "2s")
	t.Setenv("ENRICH_RPS", "2.5")
	t.Setenv("PIPELINE_SENTIMENT", "true")
	t.Setenv("STORE_HIGH_ACTIVITY", "Koramangala, Indiranagar,TRAFFIC")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Equal(t, "http://localhost:9999", cfg.ElasticsearchAddr)
	require.Equal(t, []string{"broker-a:29092", "broker-b:29093"}, cfg.KafkaBrokers)
	require.Equal(t, "custom_topic", cfg.KafkaTopic)
	require.Equal(t, "custom-group", cfg.KafkaConsumer)
	require.Equal(t, config.HotBadger, cfg.HotStore)
	require.Equal(t, "/tmp/hot", cfg.BadgerPath)
	require.Equal(t, 5, cfg.DedupeCapacity)
	require.Equal(t, 48*time.Hour, cfg.DedupeTTL)
	require.Equal(t, 3, cfg.BatchSize)
	require.Equal(t, 5*time.Second, cfg.FlushInterval)
	require.Equal(t, "http://ai:8000", cfg.URL)
	require.Equal(t, 2*time.Second, cfg.Enrichment.Timeout)
	require.InDelta(t, 2.5, cfg.RPS, 1e-9)
	require.True(t, cfg.Sentiment)
	require.Equal(t, []string{"Koramangala", "Indiranagar", "TRAFFIC"}, cfg.HighActivity)
}

func TestLoadWorkerRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "hot store", key: "HOT_STORE", value: "redis"},
		{name: "batch size", key: "WORKER_BATCH_SIZE", value: "0"},
		{name: "dedupe capacity", key: "WORKER_DEDUPE_CAPACITY", value: "-1"},
		{name: "overfetch", key: "STORE_OVERFETCH", value: "0"},
		{name: "breaker", key: "ENRICH_BREAKER_FAILURES", value: "0"},
		{name: "rps", key: "ENRICH_RPS", value: "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := config.LoadWorker()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadAPI(t *testing.T) {
	t.Setenv("API_BIND_ADDR", ":9090")
	t.Setenv("STORE_DEFAULT_LIMIT", "15")
	t.Setenv("API_MAX_LIMIT", "200")
	t.Setenv("ELASTICSEARCH_ADDR", "http://api-es:9200")
	t.Setenv("ELASTICSEARCH_INDEX", "api-index")
	t.Setenv("LIVE_TOPIC", "live")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.BindAddr)
	require.Equal(t, 15, cfg.DefaultLimit)
	require.Equal(t, 200, cfg.MaxLimit)
	require.Equal(t, "http://api-es:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "api-index", cfg.ElasticsearchIndex)
	require.Equal(t, "live", cfg.LiveTopic)
	require.Equal(t, "reports_raw", cfg.ReportsTopic)
}

func TestLoadAPIDefaultAboveMax(t *testing.T) {
	t.Setenv("STORE_DEFAULT_LIMIT", "50")
	t.Setenv("API_MAX_LIMIT", "10")

	_, err := config.LoadAPI()
	require.Error(t, err)
}

func TestLoadPoller(t *testing.T) {
	t.Setenv("POLLER_HIGH_INTERVAL", "1m")
	t.Setenv("POLLER_HIGH_WINDOW", "2m")
	t.Setenv("POLLER_LOCATIONS_FILE", "/etc/pulse/locations.yaml")
	t.Setenv("POLLER_FEED_RADIUS_KM", "1.5")

	cfg, err := config.LoadPoller()
	require.NoError(t, err)
	require.Equal(t, time.Minute, cfg.HighInterval)
	require.Equal(t, 2*time.Minute, cfg.HighWindow)
	require.Equal(t, 15*time.Minute, cfg.MediumInterval)
	require.Equal(t, 30*time.Minute, cfg.MediumWindow)
	require.Equal(t, 2*time.Minute, cfg.EmergencyInterval)
	require.Equal(t, 6*time.Hour, cfg.AlertMemory)
	require.Equal(t, "/etc/pulse/locations.yaml", cfg.LocationsFile)
	require.InDelta(t, 1.5, cfg.FeedRadiusKm, 1e-9)
	require.Equal(t, "locations", cfg.LocationsCollection)
}

func TestLoadPollerBadDurationFallsBack(t *testing.T) {
	t.Setenv("POLLER_MEDIUM_WINDOW", "soon")

	cfg, err := config.LoadPoller()
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, cfg.MediumWindow)
}

func TestLoadRetention(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://ret:27017")
	t.Setenv("RETENTION_CRON", "12h")
	t.Setenv("RETENTION_TIMEOUT", "30s")

	cfg, err := config.LoadRetention()
	require.NoError(t, err)

	require.Equal(t, 12*time.Hour, cfg.Interval)
	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.Equal(t, "mongodb://ret:27017", cfg.MongoURI)
	require.Equal(t, "events_hot", cfg.HotCollection)
}
