package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/gatortaxi/internal/ride/domain"
)

const (
	defaultJournalKey = "gatortaxi:ride:events"
	defaultJournalMax = 1000
)

// RedisJournal keeps the most recent ride events in a capped Redis list.
type RedisJournal struct {
	client redis.Cmdable
	key    string
	max    int64
}

// NewRedisJournal constructs the journal. max <= 0 keeps the default of 1000 entries.
func NewRedisJournal(client redis.Cmdable, key string, max int) *RedisJournal {
	if key == "" {
		key = defaultJournalKey
	}
	if max <= 0 {
		max = defaultJournalMax
	}
	return &RedisJournal{client: client, key: key, max: int64(max)}
}

// Publish appends the event and trims the list in one pipeline.
func (j *RedisJournal) Publish(ctx context.Context, event domain.RideEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ride event: %w", err)
	}
	_, err = j.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, j.key, payload)
		pipe.LTrim(ctx, j.key, -j.max, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis journal append: %w", err)
	}
	return nil
}

// Recent returns up to n events, oldest first.
func (j *RedisJournal) Recent(ctx context.Context, n int) ([]domain.RideEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := j.client.LRange(ctx, j.key, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	events := make([]domain.RideEvent, 0, len(raw))
	for _, item := range raw {
		var event domain.RideEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("decode ride event: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}
