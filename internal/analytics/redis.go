// Package analytics keeps per-trigger dispatch counters in Redis for
// dashboard consumption. Counts are best effort: a Redis outage never
// affects dispatching.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRetention keeps dispatch counters for 90 days.
const DefaultRetention = 90 * 24 * time.Hour

// RedisSink counts dispatch outcomes per trigger in daily buckets.
type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client, retention: DefaultRetention}
}

// WithRetention overrides how long counters are kept.
func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	if d > 0 {
		s.retention = d
	}
	return s
}

// RecordDispatch increments the daily counter for one trigger outcome.
// Errors are logged, never propagated.
func (s *RedisSink) RecordDispatch(ctx context.Context, triggerID uuid.UUID, outcome string, at time.Time) {
	key := buildKey(triggerID.String(), outcome, at)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: record dispatch %s: %v", key, err)
	}
}

func buildKey(triggerID, outcome string, t time.Time) string {
	return fmt.Sprintf("t:%s:%s:%s", triggerID, outcome, t.UTC().Format("20060102"))
}
