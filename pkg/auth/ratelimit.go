package auth

import (
	"context"
	"sync"
	"time"
)

// RateLimiter decides whether an authenticated request may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig holds the per-minute request budget for one service tier.
type TierConfig struct {
	RequestsPerMinute int
}

// InProcessLimiter counts requests in fixed one-minute windows per subject
// and tier, entirely in memory. Unknown tiers fall back to the default
// budget, and a budget of zero or less means unlimited.
type InProcessLimiter struct {
	tiers      map[string]TierConfig
	defaultRPM int

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count     int
	startedAt time.Time
}

// NewInProcessLimiter creates a limiter with per-tier budgets.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		windows:    make(map[string]*window),
	}
}

// Allow counts the request against the caller's current window and returns
// ErrTooManyRequests once the budget is spent.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.ServiceTier
	if tier == "" {
		tier = "default"
	}

	rpm := l.defaultRPM
	if tc, ok := l.tiers[tier]; ok {
		rpm = tc.RequestsPerMinute
	}
	if rpm <= 0 {
		return nil // no limit
	}

	key := identity.Subject + ":" + tier

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.startedAt) >= time.Minute {
		// New window.
		l.windows[key] = &window{count: 1, startedAt: now}
		return nil
	}

	w.count++
	if w.count > rpm {
		return ErrTooManyRequests
	}

	return nil
}
