package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medassist/appointment-negotiation/internal/metrics"
)

// Cache stores one Schedule per patient in the shared TTL store, so
// every coordinator instance sees the same availability snapshot.
type Cache struct {
	rdb     *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
}

func NewCache(rdb *redis.Client, ttl time.Duration, m *metrics.Metrics) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, metrics: m}
}

func cacheKey(patientCode string) string {
	return "schedule:" + patientCode
}

// Get returns the cached schedule, or nil on a miss. The store's TTL is
// the freshness boundary; an expired entry simply isn't there.
func (c *Cache) Get(ctx context.Context, patientCode string) (*Schedule, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(patientCode)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.metrics.IncScheduleCache("miss")
			return nil, nil
		}
		return nil, fmt.Errorf("get schedule cache: %w", err)
	}

	var s Schedule
	if err := json.Unmarshal(raw, &s); err != nil {
		// A corrupt entry is treated as a miss; the resolver refetches.
		c.metrics.IncScheduleCache("corrupt")
		return nil, nil
	}

	c.metrics.IncScheduleCache("hit")
	return &s, nil
}

func (c *Cache) Put(ctx context.Context, s *Schedule) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	if err := c.rdb.Set(ctx, cacheKey(s.PatientCode), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("put schedule cache: %w", err)
	}
	return nil
}

// Invalidate drops the patient's entry. Called after any confirmed
// reserve or cancel, since the grid it was built from is now wrong.
func (c *Cache) Invalidate(ctx context.Context, patientCode string) error {
	if err := c.rdb.Del(ctx, cacheKey(patientCode)).Err(); err != nil {
		return fmt.Errorf("invalidate schedule cache: %w", err)
	}
	return nil
}
