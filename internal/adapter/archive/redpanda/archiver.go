// Package redpanda forwards lifecycle events to a Redpanda/Kafka topic for
// long-term retention. The Redis streams keep a bounded window; the archive
// topic is the durable sink monitors and analytics read beyond it.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// Archiver implements domain.EventArchiver on a Kafka producer.
type Archiver struct {
	client *kgo.Client
	topic  string
}

// NewArchiver constructs an Archiver and ensures the topic exists.
func NewArchiver(brokers []string, topic string) (*Archiver, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if topic == "" {
		return nil, fmt.Errorf("archive topic cannot be empty")
	}
	slog.Info("creating event archiver", slog.Any("brokers", brokers), slog.String("topic", topic))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	if err := ensureTopic(context.Background(), client, topic); err != nil {
		// Topic may already exist or be auto-created by the broker.
		slog.Warn("failed to create archive topic",
			slog.String("topic", topic),
			slog.Any("error", err))
	}
	return &Archiver{client: client, topic: topic}, nil
}

// ensureTopic creates the single-partition archive topic on brokers that do
// not auto-create. Kafka error code 36 is TOPIC_ALREADY_EXISTS.
func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000
	tr := kmsg.NewCreateTopicsRequestTopic()
	tr.Topic = topic
	tr.NumPartitions = 1
	tr.ReplicationFactor = 1
	req.Topics = append(req.Topics, tr)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("create topics request: %w", err)
	}
	created, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("unexpected response type %T", resp)
	}
	for _, tres := range created.Topics {
		if tres.ErrorCode == 0 || tres.ErrorCode == 36 {
			continue
		}
		msg := ""
		if tres.ErrorMessage != nil {
			msg = *tres.ErrorMessage
		}
		return fmt.Errorf("create topic %s: %s (code %d)", tres.Topic, msg, tres.ErrorCode)
	}
	return nil
}

// Archive produces the event as a JSON record keyed by job id so per-job
// history stays ordered within a partition.
func (a *Archiver) Archive(ctx domain.Context, e domain.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	record := &kgo.Record{
		Topic: a.topic,
		Key:   []byte(e.JobID),
		Value: body,
	}
	if err := a.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce archive record: %w", err)
	}
	return nil
}

// Close flushes and releases the producer.
func (a *Archiver) Close() error {
	a.client.Close()
	return nil
}
