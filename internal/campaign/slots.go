// Package campaign exposes the two hooks the call gateway has into campaign
// orchestration: releasing a campaign's concurrent-call slot when a call
// reaches a terminal state, and publishing retry events for calls that never
// connected.
package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"voicegate/pkg/utils"
)

// slotTTL bounds how long a leaked slot can block the campaign after a
// process crash. Long enough for any single call.
const slotTTL = 2 * time.Hour

// SlotReleaser frees a campaign's concurrent-call slot. Release must be safe
// to call for a slot that was never acquired; the dialer enforces the cap,
// the gateway only returns capacity.
type SlotReleaser interface {
	Release(ctx context.Context, campaignID int64) error
}

// RedisSlots tracks per-campaign concurrency counters in Redis, sharing the
// Lua scripts the dialer uses to acquire them.
type RedisSlots struct {
	rdb *redis.Client
}

func NewRedisSlots(rdb *redis.Client) *RedisSlots {
	return &RedisSlots{rdb: rdb}
}

func slotKey(campaignID int64) string {
	return fmt.Sprintf("campaign:%d:slots", campaignID)
}

func (s *RedisSlots) Release(ctx context.Context, campaignID int64) error {
	if err := utils.ReleaseConcurrencyCap(ctx, s.rdb, slotKey(campaignID)); err != nil {
		return fmt.Errorf("release campaign %d slot: %w", campaignID, err)
	}
	return nil
}

// Acquire reserves a slot under the given cap. The gateway itself never
// acquires; this exists so the dialer and tests share one implementation.
func (s *RedisSlots) Acquire(ctx context.Context, campaignID int64, limit int) (bool, error) {
	ok, err := utils.AcquireConcurrencyCap(ctx, s.rdb, slotKey(campaignID), limit, slotTTL)
	if err != nil {
		return false, fmt.Errorf("acquire campaign %d slot: %w", campaignID, err)
	}
	return ok, nil
}

// MemorySlots records releases for tests.
type MemorySlots struct {
	Released []int64
}

func (m *MemorySlots) Release(_ context.Context, campaignID int64) error {
	m.Released = append(m.Released, campaignID)
	return nil
}
