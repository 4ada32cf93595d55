package qrlink

import (
	"context"
	"time"

	"github.com/misid/qrlink/internal/rate"
)

// Engine is the handshake core. Construct it through [Builder.Build]; a
// zero-value Engine rejects every call with [ErrEngineNotReady].
type Engine struct {
	config Config

	sessions    *qrSessionStore
	invitations *invitationStore

	pins *pinVerifier

	issueLimiter      *rate.Limiter
	scanLimiter       *rate.Limiter
	verifyLimiter     *rate.Limiter
	invitationLimiter *rate.Limiter
	createLimiter     *rate.Limiter

	services ServiceDirectory
	users    UserDirectory
	issuer   CredentialIssuer
	notifier Notifier

	audit   *auditDispatcher
	metrics *Metrics

	// now is the engine clock. Tests override it to drive expiry and
	// lockout windows without sleeping.
	now func() time.Time
}

// Close flushes and stops the audit dispatcher. Safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters: map[MetricID]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// checkLimiter applies one limiter class and translates a rejection into a
// RateLimitError plus the shared metric and audit bookkeeping.
func (e *Engine) checkLimiter(ctx context.Context, l *rate.Limiter, scope, key string) error {
	if l == nil {
		return nil
	}
	retryAfter, ok := l.Check(key, e.clock())
	if ok {
		return nil
	}
	e.metricInc(MetricRateLimitHit)
	e.emitRateLimit(ctx, scope, func() map[string]string {
		return map[string]string{
			"key": key,
		}
	})
	return &RateLimitError{RetryAfter: retryAfter}
}

// limiterKey prefers the caller IP attached to ctx, falling back to the
// supplied identifier so limits still apply without IP context.
func limiterKey(ctx context.Context, fallback string) string {
	if ip := clientIPFromContext(ctx); ip != "" {
		return ip
	}
	return fallback
}
