package subguard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andersonlima/PedeAi/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type memoryStore struct {
	entries map[uint]Entry
	sets    int
	deletes int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: map[uint]Entry{}}
}

func (s *memoryStore) Get(ctx context.Context, userID uint) (*Entry, error) {
	if e, ok := s.entries[userID]; ok {
		copied := e
		return &copied, nil
	}
	return nil, nil
}

func (s *memoryStore) Set(ctx context.Context, entry Entry, expiration time.Duration) error {
	s.sets++
	s.entries[entry.UserID] = entry
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, userID uint) error {
	s.deletes++
	delete(s.entries, userID)
	return nil
}

type fakePuller struct {
	record *models.Subscription
	err    error
	calls  int
}

func (p *fakePuller) PullAndReconcile(ctx context.Context, userID uint) (*models.Subscription, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.record, nil
}

func activeRecord(now time.Time) *models.Subscription {
	exp := now.Add(30 * 24 * time.Hour)
	return &models.Subscription{
		UserID:    7,
		Status:    models.SubscriptionStatusActive,
		PlanName:  "Plano Mensal",
		PlanPrice: 29.90,
		ExpiresAt: &exp,
	}
}

func testConfig() Config {
	return Config{
		TTL:         10 * time.Minute,
		StrictMode:  false,
		GracePeriod: 24 * time.Hour,
		PullTimeout: 5 * time.Second,
	}
}

func TestCheckSubscriptionFreshCacheHit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	store := newMemoryStore()
	puller := &fakePuller{}

	store.entries[7] = Entry{
		UserID:    7,
		IsActive:  true,
		Status:    models.SubscriptionStatusActive,
		PlanName:  "Plano Mensal",
		PlanPrice: 29.90,
		CheckedAt: now.Add(-(10*time.Minute - time.Second)),
	}

	g := New(testConfig(), store, puller, clock)
	res, err := g.CheckSubscription(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, res.Subscribed)
	assert.False(t, res.NeedsRefresh)
	assert.Equal(t, 0, puller.calls, "fresh cache must not pull")
}

func TestCheckSubscriptionStaleCachePulls(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	store := newMemoryStore()
	puller := &fakePuller{record: activeRecord(now)}

	store.entries[7] = Entry{
		UserID:    7,
		IsActive:  true,
		CheckedAt: now.Add(-(10*time.Minute + time.Second)),
	}

	g := New(testConfig(), store, puller, clock)
	res, err := g.CheckSubscription(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, res.Subscribed)
	assert.Equal(t, 1, puller.calls, "stale cache must pull")
	assert.Equal(t, 1, store.sets, "positive pull refreshes the cache")
}

func TestCheckSubscriptionNegativeNeverCached(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	store := newMemoryStore()
	puller := &fakePuller{record: &models.Subscription{
		UserID: 7,
		Status: models.SubscriptionStatusInactive,
	}}

	g := New(testConfig(), store, puller, clock)
	res, err := g.CheckSubscription(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, res.Subscribed)
	assert.Equal(t, 0, store.sets, "negative results are never cached")
	assert.Equal(t, 1, store.deletes, "negative check clears any stale entry")
}

func TestCheckSubscriptionStrictModePropagatesUnknown(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	store := newMemoryStore()
	puller := &fakePuller{err: errors.New("provider down")}

	cfg := testConfig()
	cfg.StrictMode = true
	g := New(cfg, store, puller, clock)

	res, err := g.CheckSubscription(context.Background(), 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerificationUnavailable)
	assert.False(t, res.Subscribed)
	assert.Equal(t, models.SubscriptionStatusError, res.Status)
}

func TestCheckSubscriptionGraceWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	store := newMemoryStore()
	puller := &fakePuller{err: errors.New("provider down")}

	store.entries[7] = Entry{
		UserID:    7,
		IsActive:  true,
		Status:    models.SubscriptionStatusActive,
		PlanName:  "Plano Mensal",
		CheckedAt: now.Add(-23 * time.Hour),
	}

	g := New(testConfig(), store, puller, clock)
	res, err := g.CheckSubscription(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, res.Subscribed)
	assert.True(t, res.NeedsRefresh, "grace results must be labeled")
}

func TestCheckSubscriptionGraceExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	store := newMemoryStore()
	puller := &fakePuller{err: errors.New("provider down")}

	store.entries[7] = Entry{
		UserID:    7,
		IsActive:  true,
		CheckedAt: now.Add(-24 * time.Hour),
	}

	g := New(testConfig(), store, puller, clock)
	res, err := g.CheckSubscription(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, res.Subscribed, "past the grace window the safe default applies")
	assert.Equal(t, models.SubscriptionStatusError, res.Status)
	assert.False(t, res.NeedsRefresh)
}

func TestRequireSubscriptionCollapsesUnknown(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	puller := &fakePuller{err: errors.New("provider down")}

	cfg := testConfig()
	cfg.StrictMode = true
	g := New(cfg, newMemoryStore(), puller, clock)

	assert.False(t, g.RequireSubscription(context.Background(), 7))
}

func TestRequireSubscriptionGranted(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	puller := &fakePuller{record: activeRecord(now)}

	g := New(testConfig(), newMemoryStore(), puller, clock)
	assert.True(t, g.RequireSubscription(context.Background(), 7))
}

func TestInvalidate(t *testing.T) {
	store := newMemoryStore()
	store.entries[7] = Entry{UserID: 7, IsActive: true}

	g := New(testConfig(), store, &fakePuller{}, &fakeClock{now: time.Now()})
	require.NoError(t, g.Invalidate(context.Background(), 7))
	assert.Empty(t, store.entries)
}
