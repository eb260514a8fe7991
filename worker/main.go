package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/local-pulse/backend/internal/bootstrap"
	"github.com/DeafMist/local-pulse/backend/internal/config"
	"github.com/DeafMist/local-pulse/backend/internal/dedupe"
	"github.com/DeafMist/local-pulse/backend/internal/fanout"
	"github.com/DeafMist/local-pulse/backend/internal/geo"
	"github.com/DeafMist/local-pulse/backend/internal/logger"
	"github.com/DeafMist/local-pulse/backend/internal/models"
	"github.com/DeafMist/local-pulse/backend/internal/pipeline"
	"github.com/DeafMist/local-pulse/backend/internal/processing"
)

// userReports is the context of every worker batch: submissions carry their
// own area, so nothing is inherited.
var userReports = models.LocationContext{LocationID: "user-reports"}

type ingester interface {
	Ingest(ctx context.Context, candidates []models.RawCandidate, lc models.LocationContext) ([]models.CanonicalEvent, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type worker struct {
	log           *slog.Logger
	reader        messageReader
	dlq           messageWriter
	ingest        ingester
	seen          *dedupe.SeenCache
	batchSize     int
	flushInterval time.Duration
	backoff       func(attempt int) time.Duration
}

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	stores, err := bootstrap.OpenStores(ctx, cfg.Common, cfg.Tiering, log)
	if err != nil {
		log.Error("open stores", slog.Any("err", err))
		os.Exit(1)
	}

	live := fanout.NewKafkaPublisher(cfg.KafkaBrokers, cfg.LiveTopic)
	p := pipeline.New(bootstrap.Gateway(cfg.Enrichment, log), stores.Tiered, live, pipeline.Options{
		Sentiment: cfg.Sentiment,
		Logger:    log,
	})

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})

	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic + "_dlq",
		MaxAttempts: 3,
	})

	w := &worker{
		log:           log,
		reader:        reader,
		dlq:           dlqWriter,
		ingest:        p,
		seen:          dedupe.NewSeenCache(cfg.DedupeCapacity, cfg.DedupeTTL),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		backoff:       func(attempt int) time.Duration { return time.Duration(1<<uint(attempt)) * time.Second },
	}

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", cfg.KafkaTopic+"_dlq"),
		slog.Int("batch_size", cfg.BatchSize),
	)

	w.run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := reader.Close(); err != nil {
		log.Error("close reader", slog.Any("err", err))
	}
	if err := dlqWriter.Close(); err != nil {
		log.Error("close dlq writer", slog.Any("err", err))
	}
	if err := stores.Close(closeCtx); err != nil {
		log.Error("close stores", slog.Any("err", err))
	}
	if err := live.Close(); err != nil {
		log.Error("close live publisher", slog.Any("err", err))
	}
}

// run collects up to batchSize messages, or whatever arrived within
// flushInterval of the first one, and hands them to the pipeline together.
func (w *worker) run(ctx context.Context) {
	for {
		batch, err := w.collect(ctx)
		if ctx.Err() != nil {
			// An uncommitted partial batch is redelivered on restart.
			w.log.Info("context canceled, stopping", slog.Int("pending", len(batch)))
			return
		}
		if len(batch) > 0 {
			w.processBatch(ctx, batch)
		}
		if err != nil {
			w.log.Error("fetch message", slog.Any("err", err))
		}
	}
}

func (w *worker) collect(ctx context.Context) ([]kafka.Message, error) {
	msg, err := w.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{msg}

	deadline, cancel := context.WithTimeout(ctx, w.flushInterval)
	defer cancel()
	for len(batch) < w.batchSize {
		msg, err := w.reader.FetchMessage(deadline)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return batch, nil
			}
			return batch, err
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

// processBatch decodes the batch, runs the valid reports through the
// pipeline and commits. Undecodable reports and reports the pipeline could
// not store go to the DLQ; a batch is committed only when every DLQ write
// succeeded, so nothing is lost on restart.
func (w *worker) processBatch(ctx context.Context, batch []kafka.Message) {
	var (
		candidates []models.RawCandidate
		owner      = make(map[string]int, len(batch))
		failed     = make(map[int]error)
	)

	for i, msg := range batch {
		c, err := decodeCandidate(msg)
		if err != nil {
			failed[i] = err
			continue
		}
		if w.seen.IsSeen(c.ID) {
			w.log.Debug("duplicate report", slog.String("id", c.ID))
			continue
		}
		if _, dup := owner[c.ID]; dup {
			continue
		}
		owner[c.ID] = i
		candidates = append(candidates, c)
	}

	if len(candidates) > 0 {
		stored, err := w.ingest.Ingest(ctx, candidates, userReports)
		for _, ev := range stored {
			for _, id := range ev.ContributingIDs() {
				w.seen.MarkSeen(id)
				delete(owner, id)
			}
		}
		if err != nil {
			for _, i := range owner {
				failed[i] = err
			}
		}
		w.log.Info("batch processed",
			slog.Int("messages", len(batch)),
			slog.Int("candidates", len(candidates)),
			slog.Int("stored", len(stored)),
			slog.Int("failed", len(failed)),
		)
	}

	for i, reason := range failed {
		msg := batch[i]
		w.log.Warn("process message failed, sending to DLQ",
			slog.Any("err", reason),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
		)
		if !w.sendToDLQ(ctx, msg, reason) {
			w.log.Error("DLQ write exhausted retries, batch left uncommitted",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
			return
		}
	}

	if err := w.reader.CommitMessages(ctx, batch...); err != nil {
		w.log.Error("commit batch", slog.Any("err", err))
	}
}

func (w *worker) sendToDLQ(ctx context.Context, msg kafka.Message, reason error) bool {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(reason.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := range 5 {
		dlqErr := w.dlq.WriteMessages(ctx, dlqMsg)
		if dlqErr == nil {
			w.log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		}
		backoff := w.backoff(attempt)
		w.log.Warn("DLQ write failed, retrying",
			slog.Any("err", dlqErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
	}
	return false
}

// decodeCandidate parses a submission and fills in what the producer may
// omit. The id is derived from the content when missing so redeliveries
// dedupe.
func decodeCandidate(msg kafka.Message) (models.RawCandidate, error) {
	var c models.RawCandidate
	if err := json.Unmarshal(msg.Value, &c); err != nil {
		return c, fmt.Errorf("decode report: %w", err)
	}
	c.Title = strings.TrimSpace(c.Title)
	c.Text = strings.TrimSpace(c.Text)
	if c.Body() == "" {
		return c, errors.New("empty report")
	}
	if c.Location != nil && !geo.ValidCoordinates(c.Location.Lat, c.Location.Lon) {
		return c, errors.New("report coordinates out of range")
	}
	if c.Source == "" {
		c.Source = models.SourceUser
	}
	if c.ObservedAt.IsZero() {
		c.ObservedAt = msg.Time.UTC()
	}
	if c.ID == "" {
		c.ID = processing.BuildCandidateID(string(c.Source), c.Body(), c.ObservedAt)
	}
	return c, nil
}
