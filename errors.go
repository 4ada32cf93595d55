package qrlink

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineNotReady is returned when an Engine method is called before
	// the engine was fully assembled through [Builder.Build].
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidServiceCredentials is returned when a service id / API key
	// pair does not resolve to an active registered service.
	ErrInvalidServiceCredentials = errors.New("invalid service credentials")
	// ErrInvalidUserCredentials is returned when a user auth key does not
	// resolve to an active user.
	ErrInvalidUserCredentials = errors.New("invalid user credentials")
	// ErrUserNotFound is returned when the user bound to a session has
	// disappeared from the directory between scan and verify.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionNotFound is returned when neither the pattern index nor the
	// raw token resolves a QR session.
	ErrSessionNotFound = errors.New("qr session not found")
	// ErrInvalidPattern is returned when a scanned pattern fails structural
	// validation against the stored code and obfuscation map.
	ErrInvalidPattern = errors.New("invalid qr pattern")
	// ErrSessionExpired is returned when the QR session TTL elapsed before
	// the scan arrived.
	ErrSessionExpired = errors.New("qr session expired")
	// ErrAlreadyScanned is returned on a second scan of the same session.
	ErrAlreadyScanned = errors.New("qr session already scanned")
	// ErrAlreadyVerified is returned when verify is attempted on a session
	// that already reached COMPLETED.
	ErrAlreadyVerified = errors.New("qr session already verified")
	// ErrNotScanned is returned when verify is attempted before any PIN
	// was minted for the session.
	ErrNotScanned = errors.New("qr session not scanned yet")
	// ErrPinExpired is returned when the PIN window elapsed, regardless of
	// whether the supplied PIN would have matched.
	ErrPinExpired = errors.New("pin expired")
	// ErrPinInvalid is the match target for [PinMismatchError].
	ErrPinInvalid = errors.New("invalid pin")
	// ErrPinLocked is the match target for [LockoutError].
	ErrPinLocked = errors.New("pin verification locked")
	// ErrRateLimited is the match target for [RateLimitError].
	ErrRateLimited = errors.New("too many requests")
	// ErrInvitationNotFound is returned when no invitation matches the
	// supplied code or URL token. Maps to HTTP 404 on the link path.
	ErrInvitationNotFound = errors.New("invitation not found")
	// ErrInvitationUsed is returned once an invitation was terminally
	// consumed. Maps to HTTP 410.
	ErrInvitationUsed = errors.New("invitation already used")
	// ErrInvitationLinkExpired is returned when the outer link validity
	// window elapsed. Maps to HTTP 410.
	ErrInvitationLinkExpired = errors.New("invitation link expired")
	// ErrInvitationSessionExpired is returned when the post-open session
	// window elapsed. Maps to HTTP 410.
	ErrInvitationSessionExpired = errors.New("invitation session expired")
	// ErrStoreUnavailable wraps Redis transport failures from the session
	// and invitation stores.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrCredentialIssue is returned when the downstream credential issuer
	// fails after an otherwise successful PIN verification.
	ErrCredentialIssue = errors.New("session credential issue failed")
	// ErrInvalidConfiguration is returned for structurally impossible
	// configuration, e.g. an obfuscation hidden count above the code length.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// RateLimitError reports a rejected request together with the remaining
// block duration. It matches [ErrRateLimited] under errors.Is.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many requests, retry in %s", e.RetryAfter.Round(time.Second))
}

// Is reports whether target is [ErrRateLimited].
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// LockoutError reports an active PIN lockout together with the remaining
// lockout duration. It matches [ErrPinLocked] under errors.Is.
type LockoutError struct {
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("pin verification locked, retry in %s", e.RetryAfter.Round(time.Second))
}

// Is reports whether target is [ErrPinLocked].
func (e *LockoutError) Is(target error) bool { return target == ErrPinLocked }

// PinMismatchError reports a failed PIN comparison together with the number
// of attempts left before lockout. It matches [ErrPinInvalid] under errors.Is.
type PinMismatchError struct {
	Remaining int
}

func (e *PinMismatchError) Error() string {
	return fmt.Sprintf("invalid pin, %d attempts remaining", e.Remaining)
}

// Is reports whether target is [ErrPinInvalid].
func (e *PinMismatchError) Is(target error) bool { return target == ErrPinInvalid }
