package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/ndvi-forecast-service/internal/config"
	"github.com/couchcryptid/ndvi-forecast-service/internal/domain"
)

// publishBatchSize bounds a single WriteMessages call.
const publishBatchSize = 500

// messageWriter is the subset of kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes committed index snapshots to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PointMessage is the JSON value of a published point.
type PointMessage struct {
	domain.Point
	RunID   string    `json:"run_id"`
	Seq     uint64    `json:"seq"`
	BuiltAt time.Time `json:"built_at"`
}

// PublishSnapshot writes every point of idx, keyed by month so that a month's
// points land on one partition in index order.
func (w *Writer) PublishSnapshot(ctx context.Context, idx *domain.MonthIndex) error {
	meta := idx.Meta()
	batch := make([]kafkago.Message, 0, min(idx.Len(), publishBatchSize))
	published := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.writer.WriteMessages(ctx, batch...); err != nil {
			return fmt.Errorf("write %d messages: %w", len(batch), err)
		}
		published += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, month := range idx.Months() {
		for _, p := range idx.Get(month) {
			msg, err := serializeToMessage(PointMessage{Point: p, RunID: meta.RunID, Seq: meta.Seq, BuiltAt: idx.BuiltAt()})
			if err != nil {
				return err
			}
			batch = append(batch, msg)
			if len(batch) == publishBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	w.logger.Info("snapshot published", "run_id", meta.RunID, "messages", published)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a point into a Kafka message.
func serializeToMessage(m PointMessage) (kafkago.Message, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize point: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(m.MonthKey),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(m.RunID)},
			{Key: "source", Value: []byte(m.Source)},
			{Key: "month", Value: []byte(m.MonthKey)},
		},
	}, nil
}
