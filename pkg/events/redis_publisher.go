package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"biblio/internal/util"
)

// RedisPublisher appends events to a Redis stream, trimmed to a bounded
// length. Consumers read with XREAD/consumer groups at their own pace.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

type RedisConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "biblio:events"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		maxLen: maxLen,
	}, nil
}

// Publish appends one event to the stream.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("event type required")
	}
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	values := map[string]any{
		"event_id":    util.NewID(),
		"type":        e.Type,
		"occurred_at": occurred.UTC().Format(time.RFC3339Nano),
	}
	if e.BookID != "" {
		values["book_id"] = e.BookID
	}
	if e.UserID != "" {
		values["user_id"] = e.UserID
	}
	if e.LoanID != "" {
		values["loan_id"] = e.LoanID
	}
	if e.ResID != "" {
		values["reservation_id"] = e.ResID
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err()
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
