package redisclient

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLeaser(t *testing.T, ttl time.Duration) (SlotLeaser, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSlotLeaser(client, ttl), mr
}

func TestAcquireRelease(t *testing.T) {
	leaser, _ := newTestLeaser(t, time.Minute)
	ctx := context.Background()
	startAt := time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC)

	lease, err := leaser.Acquire(ctx, startAt, "100234")
	require.NoError(t, err)
	assert.Equal(t, "100234", lease.Holder())

	// Same slot is blocked while held.
	_, err = leaser.Acquire(ctx, startAt, "200777")
	assert.ErrorIs(t, err, ErrLeaseHeld)

	// A different timestamp never blocks.
	other, err := leaser.Acquire(ctx, startAt.Add(30*time.Minute), "200777")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))

	// Released slot is claimable again.
	_, err = leaser.Acquire(ctx, startAt, "200777")
	require.NoError(t, err)
}

func TestAcquireExpiry(t *testing.T) {
	leaser, mr := newTestLeaser(t, time.Minute)
	ctx := context.Background()
	startAt := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)

	lease, err := leaser.Acquire(ctx, startAt, "100234")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	// TTL released the claim without an explicit Release.
	_, err = leaser.Acquire(ctx, startAt, "200777")
	require.NoError(t, err)

	// The original holder finds out on renew.
	assert.ErrorIs(t, lease.Renew(ctx), ErrLeaseLost)
}

func TestRenewExtends(t *testing.T) {
	leaser, mr := newTestLeaser(t, time.Minute)
	ctx := context.Background()
	startAt := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	lease, err := leaser.Acquire(ctx, startAt, "100234")
	require.NoError(t, err)

	mr.FastForward(45 * time.Second)
	require.NoError(t, lease.Renew(ctx))

	mr.FastForward(45 * time.Second)

	// Still held 90s in because the renew restarted the clock.
	_, err = leaser.Acquire(ctx, startAt, "200777")
	assert.ErrorIs(t, err, ErrLeaseHeld)
}

func TestReleaseNotOwner(t *testing.T) {
	leaser, mr := newTestLeaser(t, time.Minute)
	ctx := context.Background()
	startAt := time.Date(2026, 9, 1, 11, 30, 0, 0, time.UTC)

	lease, err := leaser.Acquire(ctx, startAt, "100234")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	stolen, err := leaser.Acquire(ctx, startAt, "200777")
	require.NoError(t, err)

	// The expired holder must not delete the new holder's claim.
	require.NoError(t, lease.Release(ctx))
	_, err = leaser.Acquire(ctx, startAt, "300888")
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, stolen.Release(ctx))
}

func TestConcurrentAcquireExactlyOne(t *testing.T) {
	leaser, _ := newTestLeaser(t, time.Minute)
	ctx := context.Background()
	startAt := time.Date(2026, 9, 1, 16, 30, 0, 0, time.UTC)

	const attempts = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := leaser.Acquire(ctx, startAt, "patient"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one concurrent claim may win")
}
