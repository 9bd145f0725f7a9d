// Package redis implements the compute budget meter on Redis counters. Each
// organization's consumption is tracked in a per-month key so budgets reset at
// month boundaries; commits use INCRBY so concurrent executions account
// correctly.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/flowmesh/flowrun/runtime/workflow/budget"
)

type (
	// Options configures the Redis budget meter.
	Options struct {
		// Redis is the Redis connection. Required.
		Redis *goredis.Client
		// Limits maps organization ids to their monthly budget in compute
		// units. Organizations absent from the map are unlimited.
		Limits map[string]int
		// KeyPrefix namespaces counter keys. Defaults to "flowrun:budget".
		KeyPrefix string
		// Now overrides the clock for tests.
		Now func() time.Time
	}

	// Meter is a Redis-backed budget.Meter.
	Meter struct {
		redis  *goredis.Client
		limits map[string]int
		prefix string
		now    func() time.Time
	}
)

// Counter keys never expire on their own; two months of slack keeps recent
// history around for reporting before cleanup.
const counterTTL = 62 * 24 * time.Hour

// New constructs a Meter. The Redis field in opts is required.
func New(opts Options) (*Meter, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "flowrun:budget"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	limits := make(map[string]int, len(opts.Limits))
	for k, v := range opts.Limits {
		limits[k] = v
	}
	return &Meter{redis: opts.Redis, limits: limits, prefix: prefix, now: now}, nil
}

// Remaining implements budget.Meter.
func (m *Meter) Remaining(ctx context.Context, orgID string) (int, error) {
	limit, ok := m.limits[orgID]
	if !ok {
		return budget.Unlimited, nil
	}
	used, err := m.redis.Get(ctx, m.key(orgID)).Int()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return 0, fmt.Errorf("redis budget read: %w", err)
	}
	if used >= limit {
		return 0, nil
	}
	return limit - used, nil
}

// Commit implements budget.Meter.
func (m *Meter) Commit(ctx context.Context, orgID string, cost int) error {
	if cost <= 0 {
		return nil
	}
	key := m.key(orgID)
	pipe := m.redis.TxPipeline()
	pipe.IncrBy(ctx, key, int64(cost))
	pipe.Expire(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis budget commit: %w", err)
	}
	return nil
}

// SetLimit configures or updates an organization's monthly limit. Not safe
// for concurrent use with Remaining; call during startup or reconfiguration.
func (m *Meter) SetLimit(orgID string, limit int) {
	m.limits[orgID] = limit
}

func (m *Meter) key(orgID string) string {
	return fmt.Sprintf("%s:%s:%s", m.prefix, orgID, m.now().UTC().Format("2006-01"))
}
