package qrlink

import (
	"errors"
	"testing"
	"time"
)

func pinTestConfig() PinConfig {
	return PinConfig{
		Digits:          6,
		MaxAttempts:     3,
		TTL:             2 * time.Minute,
		LockoutDuration: 15 * time.Minute,
	}
}

func pinTestSession(now time.Time) *qrSession {
	return &qrSession{
		Token:        "tok",
		Status:       StatusPinGenerated,
		PIN:          "482913",
		ScannedAt:    now.Unix(),
		PinExpiresAt: now.Add(2 * time.Minute).Unix(),
	}
}

func TestPinVerifierMatch(t *testing.T) {
	v := newPinVerifier(pinTestConfig())
	now := time.Now()
	sess := pinTestSession(now)

	write, err := v.verify(sess, "482913", now)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !write {
		t.Fatal("successful verify must write")
	}
}

func TestPinVerifierMismatchCountsAttempts(t *testing.T) {
	v := newPinVerifier(pinTestConfig())
	now := time.Now()
	sess := pinTestSession(now)

	write, err := v.verify(sess, "000000", now)
	if !write {
		t.Fatal("failed attempt must persist")
	}
	var mismatch *PinMismatchError
	if !errors.As(err, &mismatch) || mismatch.Remaining != 2 {
		t.Fatalf("err = %v, want mismatch with 2 remaining", err)
	}
	if sess.PinAttempts != 1 {
		t.Fatalf("attempts = %d, want 1", sess.PinAttempts)
	}
}

func TestPinVerifierLockoutChecksBeforeExpiry(t *testing.T) {
	v := newPinVerifier(pinTestConfig())
	now := time.Now()
	sess := pinTestSession(now)
	sess.LockedUntil = now.Add(10 * time.Minute).Unix()

	// Even though the PIN window also lapsed, the lockout answer wins.
	later := now.Add(5 * time.Minute)
	_, err := v.verify(sess, "482913", later)
	if !errors.Is(err, ErrPinLocked) {
		t.Fatalf("err = %v, want ErrPinLocked", err)
	}
}

func TestPinVerifierExpiryRejectsCorrectPin(t *testing.T) {
	v := newPinVerifier(pinTestConfig())
	now := time.Now()
	sess := pinTestSession(now)

	_, err := v.verify(sess, "482913", now.Add(2*time.Minute+time.Second))
	if !errors.Is(err, ErrPinExpired) {
		t.Fatalf("err = %v, want ErrPinExpired", err)
	}
}

func TestPinVerifierScannedAtFallbackDeadline(t *testing.T) {
	v := newPinVerifier(pinTestConfig())
	now := time.Now()
	sess := pinTestSession(now)
	sess.PinExpiresAt = 0

	if _, err := v.verify(sess, "482913", now.Add(time.Minute)); err != nil {
		t.Fatalf("verify within fallback window failed: %v", err)
	}

	sess = pinTestSession(now)
	sess.PinExpiresAt = 0
	if _, err := v.verify(sess, "482913", now.Add(3*time.Minute)); !errors.Is(err, ErrPinExpired) {
		t.Fatalf("err = %v, want ErrPinExpired", err)
	}
}

func TestPinVerifierLapsedLockoutRestoresBudget(t *testing.T) {
	v := newPinVerifier(pinTestConfig())
	now := time.Now()
	sess := pinTestSession(now)
	sess.PinAttempts = 3
	sess.LockedUntil = now.Add(-time.Second).Unix()
	sess.PinExpiresAt = now.Add(time.Minute).Unix()

	write, err := v.verify(sess, "000000", now)
	if !write {
		t.Fatal("expected write")
	}
	var mismatch *PinMismatchError
	if !errors.As(err, &mismatch) || mismatch.Remaining != 2 {
		t.Fatalf("err = %v, want mismatch with restored budget", err)
	}
	if sess.LockedUntil != 0 && sess.LockedUntil > now.Unix() {
		t.Fatal("lapsed lockout must be cleared")
	}
}
