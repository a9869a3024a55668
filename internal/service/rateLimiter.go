package service

import (
	"context"
	"time"

	"github.com/ds124wfegd/appointly/internal/database"
	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/ds124wfegd/appointly/internal/metrics"
	"github.com/sirupsen/logrus"
)

// AuthEscalation blocks an identity for Block once it has failed Threshold
// logins within Window.
type AuthEscalation struct {
	Threshold int64
	Window    time.Duration
	Block     time.Duration
}

type rateLimiter struct {
	store      database.RecordStore
	escalation AuthEscalation
	now        Clock
}

func NewRateLimiter(store database.RecordStore, escalation AuthEscalation, now Clock) RateLimiter {
	if escalation.Threshold <= 0 {
		escalation.Threshold = 10
	}
	if escalation.Window <= 0 {
		escalation.Window = time.Hour
	}
	if escalation.Block <= 0 {
		escalation.Block = time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &rateLimiter{store: store, escalation: escalation, now: now}
}

// Check counts one call against (purpose, identity). Store errors allow the call.
func (l *rateLimiter) Check(ctx context.Context, purpose, identity string, limit int64, window time.Duration) entity.RateDecision {
	count, ttl, err := l.store.IncrementWindow(ctx, database.RateLimitKey(purpose, identity), window)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"purpose":  purpose,
			"identity": identity,
		}).Warnf("rate limiter store unavailable, allowing request: %v", err)
		metrics.RateLimitFailOpen.WithLabelValues(purpose).Inc()
		return entity.RateDecision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetAt:   l.now().Add(window),
		}
	}

	if ttl <= 0 {
		ttl = window
	}
	decision := entity.RateDecision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(0, limit-count),
		ResetAt:   l.now().Add(ttl),
	}
	if !decision.Allowed {
		decision.RetryAfter = ttl
		metrics.RateLimited.WithLabelValues(purpose).Inc()
	}
	return decision
}

// IsBlocked reports an active escalation block and how long it has left.
func (l *rateLimiter) IsBlocked(ctx context.Context, identity string) (bool, time.Duration) {
	key := database.AuthBlockKey(identity)
	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		logrus.WithField("identity", identity).Warnf("auth block check failed, allowing request: %v", err)
		metrics.RateLimitFailOpen.WithLabelValues(entity.PurposeAuth).Inc()
		return false, 0
	}
	if ttl > 0 {
		return true, ttl
	}
	// a block without expiry should not exist, but treat it as active
	if _, err := l.store.Get(ctx, key); err == nil {
		return true, l.escalation.Block
	}
	return false, 0
}

func (l *rateLimiter) RecordAuthFailure(ctx context.Context, identity string) {
	count, _, err := l.store.IncrementWindow(ctx, database.AuthFailuresKey(identity), l.escalation.Window)
	if err != nil {
		logrus.WithField("identity", identity).Warnf("failed to record auth failure: %v", err)
		return
	}
	if count < l.escalation.Threshold {
		return
	}

	key := database.AuthBlockKey(identity)
	if err := l.store.Put(ctx, key, []byte(l.now().UTC().Format(time.RFC3339))); err != nil {
		logrus.WithField("identity", identity).Errorf("failed to write auth block: %v", err)
		return
	}
	if err := l.store.SetExpiry(ctx, key, l.escalation.Block); err != nil {
		logrus.WithField("identity", identity).Errorf("failed to set auth block expiry: %v", err)
		return
	}
	logrus.WithFields(logrus.Fields{
		"identity": identity,
		"failures": count,
		"block":    l.escalation.Block.String(),
	}).Warn("Identity blocked after repeated auth failures")
}

func (l *rateLimiter) ResetAuthFailures(ctx context.Context, identity string) {
	if err := l.store.Delete(ctx, database.AuthFailuresKey(identity)); err != nil {
		logrus.WithField("identity", identity).Warnf("failed to reset auth failures: %v", err)
	}
}
