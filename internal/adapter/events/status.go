package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// StatusBus publishes ephemeral per-entity updates over Redis pub/sub.
// Nothing is persisted; a message with no subscriber is simply lost, which
// is the point: progress ticks and GPU telemetry must not dilute the
// persistent stream's retention budget.
type StatusBus struct {
	rdb    *redis.Client
	prefix string
}

// NewStatusBus constructs a StatusBus with the given channel prefix.
func NewStatusBus(rdb *redis.Client, prefix string) *StatusBus {
	return &StatusBus{rdb: rdb, prefix: prefix}
}

// Publish sends payload on the topic as JSON.
func (b *StatusBus) Publish(ctx domain.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal status payload: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.prefix+topic, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe attaches to one or more topics and delivers raw payloads on the
// returned channel until the context ends. Used by workers to receive
// directed abort messages and by monitors for high-frequency status.
func (b *StatusBus) Subscribe(ctx context.Context, topics ...string) (<-chan []byte, error) {
	channels := make([]string, len(topics))
	for i, t := range topics {
		channels[i] = b.prefix + t
	}
	sub := b.rdb.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					// Slow consumer: drop rather than buffer unboundedly.
				}
			}
		}
	}()
	return out, nil
}
