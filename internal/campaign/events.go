package campaign

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// EventsChannel is the Redis pub/sub channel the campaign scheduler listens
// on.
const EventsChannel = "campaign_events"

// EventRetryNeeded signals that a campaign call never connected and the
// scheduler should decide whether to queue another attempt.
const EventRetryNeeded = "campaign.retry_needed"

// RetryEvent describes a call that ended busy or unanswered.
type RetryEvent struct {
	RunID       int64  `json:"run_id"`
	CampaignID  int64  `json:"campaign_id"`
	Reason      string `json:"reason"`
	QueuedRunID *int64 `json:"queued_run_id,omitempty"`
}

// EventPublisher emits campaign lifecycle events.
type EventPublisher interface {
	PublishRetry(ctx context.Context, ev RetryEvent) error
}

// RedisPublisher publishes events on the shared campaign_events channel.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) PublishRetry(ctx context.Context, ev RetryEvent) error {
	payload, err := json.Marshal(struct {
		Type string     `json:"type"`
		Data RetryEvent `json:"data"`
	}{Type: EventRetryNeeded, Data: ev})
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, EventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish retry event: %w", err)
	}
	return nil
}

// MemoryPublisher captures events for tests.
type MemoryPublisher struct {
	Events []RetryEvent
}

func (m *MemoryPublisher) PublishRetry(_ context.Context, ev RetryEvent) error {
	m.Events = append(m.Events, ev)
	return nil
}
