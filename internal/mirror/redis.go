// Package mirror publishes inbound message events to Redis for out-of-band
// consumers. The mirror is optional and strictly best-effort: local clients
// never see a mirror failure.
package mirror

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/zalo-relay/bridge/internal/model"
)

const channel = "zalo:inbound"

// Publisher mirrors inbound messages to a Redis channel. A nil Publisher is
// valid and publishes nothing.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher connects to Redis at the given URL. An empty URL disables
// the mirror and returns a nil publisher.
func NewPublisher(redisURL string) (*Publisher, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	return &Publisher{rdb: redis.NewClient(opts)}, nil
}

// Publish mirrors one inbound message. Failures are logged, never surfaced.
func (p *Publisher) Publish(ctx context.Context, msg *model.InboundMessage) {
	if p == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal mirrored message: %v", err)
		return
	}

	if err := p.rdb.Publish(ctx, channel, data).Err(); err != nil {
		log.Printf("Mirror publish failed: %v", err)
	}
}

// Close releases the Redis connection.
func (p *Publisher) Close() {
	if p != nil && p.rdb != nil {
		p.rdb.Close()
	}
}
