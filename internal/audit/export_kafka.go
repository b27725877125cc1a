package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

const clientFlushTimeout = 5 * time.Second

// KafkaExporter streams appended audit records to a Kafka topic for SIEM and
// compliance consumers. The exporter is strictly secondary: the store is the
// durability guarantee, so a full buffer drops the export (with a log line)
// rather than blocking the request path.
type KafkaExporter struct {
	client *kgo.Client
	topic  string
	inbox  chan Record
	logger *slog.Logger
}

// NewKafkaExporter connects to the brokers and ensures the topic exists.
func NewKafkaExporter(brokers []string, topic string, logger *slog.Logger) (*KafkaExporter, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	ctx := context.Background()
	if _, err := admin.CreateTopic(ctx, 3, 1, nil, topic); err != nil {
		// Already-exists is fine; anything else is reported but not fatal,
		// since brokers commonly auto-create topics.
		logger.Warn("audit export topic creation", "topic", topic, "error", err)
	}

	return &KafkaExporter{
		client: client,
		topic:  topic,
		inbox:  make(chan Record, 1024),
		logger: logger,
	}, nil
}

// Export enqueues a record for delivery. Non-blocking.
func (e *KafkaExporter) Export(rec Record) {
	select {
	case e.inbox <- rec:
	default:
		e.logger.Warn("audit export buffer full, dropping export copy", "record_id", rec.ID)
	}
}

// Run consumes the inbox and produces to Kafka until ctx is cancelled.
// Cancellation is the normal shutdown path and returns nil, so an errgroup
// waiting on Run does not mistake a clean stop for a failure.
func (e *KafkaExporter) Run(ctx context.Context) error {
	defer e.client.Close()
	for {
		select {
		case <-ctx.Done():
			// Flush what is already queued in the producer.
			flushCtx, cancel := context.WithTimeout(context.Background(), clientFlushTimeout)
			defer cancel()
			_ = e.client.Flush(flushCtx)
			return nil
		case rec := <-e.inbox:
			value, err := json.Marshal(rec)
			if err != nil {
				e.logger.Error("marshal audit export", "error", err, "record_id", rec.ID)
				continue
			}
			record := &kgo.Record{
				Key:   []byte(rec.SubjectID),
				Value: value,
			}
			e.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
				if err != nil {
					e.logger.Error("audit export produce failed", "error", err, "record_id", rec.ID)
				}
			})
		}
	}
}
