package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLeaseHeld is returned when another negotiation already claimed the slot.
	ErrLeaseHeld = errors.New("slot lease held by another negotiation")
	// ErrLeaseLost is returned on renew/release when the lease expired or
	// was taken over after expiry.
	ErrLeaseLost = errors.New("slot lease no longer held")
)

// SlotLeaser hands out short-lived exclusivity claims on absolute slot
// start timestamps. The lease only reduces wasted remote reserve calls
// under contention; the clinic backend's own conflict response remains
// the source of truth.
type SlotLeaser interface {
	Acquire(ctx context.Context, startAt time.Time, holder string) (Lease, error)
}

// Lease is a held claim. Renew extends it while a slow remote call is in
// flight; Release gives it up once the outcome is known.
type Lease interface {
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
	Holder() string
}

// slotLease is a claim on a single wall-clock slot. Holder is the patient
// code that claimed it, so an operator can tell who owns a stuck key.
type slotLease struct {
	key    string
	holder string
	ttl    time.Duration
	client *redis.Client
}

type redisSlotLeaser struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSlotLeaser creates a leaser with the given lease TTL. The TTL is a
// safety valve against a coordinator dying mid-negotiation, not a
// correctness mechanism.
func NewSlotLeaser(client *redis.Client, ttl time.Duration) SlotLeaser {
	return &redisSlotLeaser{client: client, ttl: ttl}
}

func leaseKey(startAt time.Time) string {
	return "lease:slot:" + startAt.UTC().Format(time.RFC3339)
}

func (l *redisSlotLeaser) Acquire(ctx context.Context, startAt time.Time, holder string) (Lease, error) {
	key := leaseKey(startAt)

	ok, err := l.client.SetNX(ctx, key, holder, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire slot lease: %w", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}

	return &slotLease{
		key:    key,
		holder: holder,
		ttl:    l.ttl,
		client: l.client,
	}, nil
}

var renewScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`)

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// Renew extends the lease by its original TTL. Fails with ErrLeaseLost if
// the key expired or now belongs to someone else.
func (s *slotLease) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, s.client, []string{s.key}, s.holder, s.ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("renew slot lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release gives up the lease. Releasing a lease that already expired is
// not an error; the claim is gone either way.
func (s *slotLease) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, s.client, []string{s.key}, s.holder).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lease: %w", err)
	}
	return nil
}

// Holder returns the patient code that owns the lease.
func (s *slotLease) Holder() string { return s.holder }
