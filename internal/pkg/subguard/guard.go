package subguard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/andersonlima/PedeAi/app/models"
	"github.com/andersonlima/PedeAi/internal/pkg/cache"
	"github.com/andersonlima/PedeAi/internal/pkg/env"
)

// ErrVerificationUnavailable is returned in strict mode when the
// subscription state cannot be verified. Callers must treat it as
// "unknown", never as "denied".
var ErrVerificationUnavailable = errors.New("subguard: subscription verification unavailable")

// Clock supplies the current time so tests control cache aging.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Puller is the reconciler's pull path consumed on cache misses.
type Puller interface {
	PullAndReconcile(ctx context.Context, userID uint) (*models.Subscription, error)
}

// Config is explicit; there are no hidden defaults beyond what
// ConfigFromEnv reads.
type Config struct {
	TTL         time.Duration
	StrictMode  bool
	GracePeriod time.Duration
	PullTimeout time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		TTL:         time.Duration(envInt("SUBGUARD_TTL_MINUTES", 10)) * time.Minute,
		StrictMode:  strings.EqualFold(env.GetEnv("SUBGUARD_STRICT", "false"), "true"),
		GracePeriod: time.Duration(envInt("SUBGUARD_GRACE_HOURS", 24)) * time.Hour,
		PullTimeout: time.Duration(envInt("SUBGUARD_PULL_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}

// Result is the three-valued access answer. A non-nil error from
// CheckSubscription means "unknown"; Subscribed=false with a nil error
// means "denied".
type Result struct {
	Subscribed   bool       `json:"subscribed"`
	Status       string     `json:"status"`
	PlanName     string     `json:"plan_name"`
	PlanPrice    float64    `json:"plan_price"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	NeedsRefresh bool       `json:"needs_refresh"`
}

// Guard answers "is access currently granted" from a TTL cache with a
// reconciler pull fallback.
type Guard struct {
	cfg    Config
	store  Store
	puller Puller
	clock  Clock
}

func New(cfg Config, store Store, puller Puller, clock Clock) *Guard {
	if clock == nil {
		clock = SystemClock()
	}
	return &Guard{cfg: cfg, store: store, puller: puller, clock: clock}
}

// NewFromEnv wires a guard over the shared Redis cache.
func NewFromEnv(puller Puller) *Guard {
	return New(ConfigFromEnv(), NewRedisStore(cache.GetClient(), "subguard"), puller, SystemClock())
}

// CheckSubscription resolves the user's access state: fresh cache hit,
// else provider pull, else the strict/permissive failure policy.
func (g *Guard) CheckSubscription(ctx context.Context, userID uint) (Result, error) {
	now := g.clock.Now()

	entry, err := g.store.Get(ctx, userID)
	if err != nil {
		// A broken cache degrades to a pull, not a denial.
		log.Printf("subguard: cache read failed for user %d: %v", userID, err)
		entry = nil
	}
	if entry != nil && now.Sub(entry.CheckedAt) < g.cfg.TTL {
		return resultFromEntry(entry, false), nil
	}

	pullCtx, cancel := context.WithTimeout(ctx, g.cfg.PullTimeout)
	defer cancel()
	sub, pullErr := g.puller.PullAndReconcile(pullCtx, userID)
	if pullErr == nil {
		res := resultFromRecord(sub, now)
		if res.Subscribed {
			if err := g.store.Set(ctx, entryFromRecord(userID, sub, now), g.cfg.TTL+g.cfg.GracePeriod); err != nil {
				log.Printf("subguard: cache write failed for user %d: %v", userID, err)
			}
		} else if err := g.store.Delete(ctx, userID); err != nil {
			log.Printf("subguard: cache delete failed for user %d: %v", userID, err)
		}
		return res, nil
	}

	if g.cfg.StrictMode {
		return Result{Status: models.SubscriptionStatusError}, fmt.Errorf("%w: %v", ErrVerificationUnavailable, pullErr)
	}
	if entry != nil && now.Sub(entry.CheckedAt) < g.cfg.GracePeriod {
		log.Printf("subguard: serving user %d from grace window after pull failure: %v", userID, pullErr)
		return resultFromEntry(entry, true), nil
	}
	return Result{Subscribed: false, Status: models.SubscriptionStatusError}, nil
}

// RequireSubscription collapses the three-valued result to a boolean
// gate, discarding the unknown/error distinction.
func (g *Guard) RequireSubscription(ctx context.Context, userID uint) bool {
	res, err := g.CheckSubscription(ctx, userID)
	return err == nil && res.Subscribed
}

// Invalidate drops the cached entry. The reconciler calls it after
// every subscription write, so a cancellation cannot ride out the TTL
// on a stale positive entry.
func (g *Guard) Invalidate(ctx context.Context, userID uint) error {
	return g.store.Delete(ctx, userID)
}

func resultFromEntry(e *Entry, needsRefresh bool) Result {
	return Result{
		Subscribed:   e.IsActive,
		Status:       e.Status,
		PlanName:     e.PlanName,
		PlanPrice:    e.PlanPrice,
		ExpiresAt:    e.ExpiresAt,
		NeedsRefresh: needsRefresh,
	}
}

func resultFromRecord(sub *models.Subscription, now time.Time) Result {
	return Result{
		Subscribed: sub.IsSubscribed(now),
		Status:     sub.Status,
		PlanName:   sub.PlanName,
		PlanPrice:  sub.PlanPrice,
		ExpiresAt:  sub.ExpiresAt,
	}
}

func entryFromRecord(userID uint, sub *models.Subscription, now time.Time) Entry {
	return Entry{
		UserID:    userID,
		IsActive:  true,
		Status:    sub.Status,
		PlanName:  sub.PlanName,
		PlanPrice: sub.PlanPrice,
		ExpiresAt: sub.ExpiresAt,
		CheckedAt: now,
	}
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(env.GetEnv(key, ""))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
