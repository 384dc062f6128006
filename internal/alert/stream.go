package alert

import (
	"context"
	"fmt"

	"github.com/andresmejia3/vigil/internal/config"
	"github.com/go-redis/redis/v8"
)

// StreamPublisher appends events to a Redis stream with XADD.
type StreamPublisher struct {
	client *redis.Client
	stream string
}

// NewStreamPublisher connects to Redis and checks the connection.
func NewStreamPublisher(ctx context.Context, cfg config.RedisConfig) (*StreamPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return &StreamPublisher{client: client, stream: cfg.Stream}, nil
}

func (p *StreamPublisher) Publish(ctx context.Context, e Event) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: e.Values(),
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

func (p *StreamPublisher) Close() error {
	return p.client.Close()
}
