// Package quota gates outbound call initiation on the caller's remaining
// call-minute allowance.
package quota

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Result reports a quota decision. Reason is only set when HasQuota is false
// and is safe to return to API callers.
type Result struct {
	HasQuota bool
	Reason   string
}

// Checker answers whether a user may start another call.
type Checker interface {
	Check(ctx context.Context, userID int64) (Result, error)
}

// AllowAll grants every request. Used when quota enforcement is disabled.
type AllowAll struct{}

func (AllowAll) Check(context.Context, int64) (Result, error) {
	return Result{HasQuota: true}, nil
}

// RedisChecker compares a per-user consumed-minutes counter against a fixed
// limit. The billing pipeline maintains the counter; this only reads it.
type RedisChecker struct {
	rdb          *redis.Client
	limitMinutes int
}

// NewRedisChecker builds a checker with the given monthly minute limit.
// A limit of zero or less disables enforcement.
func NewRedisChecker(rdb *redis.Client, limitMinutes int) *RedisChecker {
	return &RedisChecker{rdb: rdb, limitMinutes: limitMinutes}
}

func usageKey(userID int64) string {
	return fmt.Sprintf("quota:user:%d:call_minutes", userID)
}

func (c *RedisChecker) Check(ctx context.Context, userID int64) (Result, error) {
	if c.limitMinutes <= 0 {
		return Result{HasQuota: true}, nil
	}

	used, err := c.rdb.Get(ctx, usageKey(userID)).Int()
	if err == redis.Nil {
		return Result{HasQuota: true}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("read quota usage: %w", err)
	}

	if used >= c.limitMinutes {
		return Result{
			HasQuota: false,
			Reason:   fmt.Sprintf("call minute quota exhausted (%d/%d)", used, c.limitMinutes),
		}, nil
	}
	return Result{HasQuota: true}, nil
}

// Static returns a fixed answer. Used in tests.
type Static struct {
	Result Result
	Err    error
}

func (s Static) Check(context.Context, int64) (Result, error) {
	return s.Result, s.Err
}
