package qrlink

import (
	"crypto/subtle"
	"time"
)

// pinVerifier enforces the PIN attempt budget, the verification window, and
// the lockout applied once the budget is exhausted. It mutates the session
// record in place; callers run it inside a store Mutate so the attempt
// counter and lockout deadline update atomically with the read.
type pinVerifier struct {
	cfg PinConfig
}

func newPinVerifier(cfg PinConfig) *pinVerifier {
	return &pinVerifier{cfg: cfg}
}

// verify checks pin against the session. The returned bool reports whether
// the record was modified and must be written back; it can be true even
// when err is non-nil (failed attempts and lockout transitions persist).
//
// Check order is fixed: lockout first, then window expiry, then the
// comparison. An expired window rejects even a correct PIN.
func (v *pinVerifier) verify(sess *qrSession, pin string, now time.Time) (bool, error) {
	write := false

	if sess.LockedUntil > 0 {
		if now.Unix() < sess.LockedUntil {
			return false, &LockoutError{
				RetryAfter: time.Unix(sess.LockedUntil, 0).Sub(now),
			}
		}
		// Lockout lapsed: the attempt budget starts over.
		sess.LockedUntil = 0
		sess.PinAttempts = 0
		write = true
	}

	deadline := sess.PinExpiresAt
	if deadline == 0 && sess.ScannedAt > 0 {
		deadline = time.Unix(sess.ScannedAt, 0).Add(v.cfg.TTL).Unix()
	}
	if deadline == 0 || now.Unix() > deadline {
		return write, ErrPinExpired
	}

	if subtle.ConstantTimeCompare([]byte(sess.PIN), []byte(pin)) != 1 {
		sess.PinAttempts++
		if int(sess.PinAttempts) >= v.cfg.MaxAttempts {
			sess.LockedUntil = now.Add(v.cfg.LockoutDuration).Unix()
			return true, &LockoutError{RetryAfter: v.cfg.LockoutDuration}
		}
		return true, &PinMismatchError{
			Remaining: v.cfg.MaxAttempts - int(sess.PinAttempts),
		}
	}

	sess.PinAttempts = 0
	return true, nil
}
