package qrlink

import (
	"errors"
	"time"
)

// Config defines all engine tuning parameters. A Config is validated and
// cloned by [Builder.Build]; engines treat it as immutable afterwards.
type Config struct {
	QR         QRConfig
	Pin        PinConfig
	Invitation InvitationConfig
	RateLimit  RateLimitConfig
	Credential CredentialConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

// QRConfig controls QR session issuance and the obfuscated-code scheme.
type QRConfig struct {
	// CodeLength is the length of the ground-truth session code.
	CodeLength int
	// HiddenCount is the number of code positions masked in the rendered
	// pattern. Must not exceed CodeLength.
	HiddenCount int
	// Expiry is the QR session TTL: a scan after this deadline transitions
	// the session to EXPIRED.
	Expiry time.Duration
	// RedisPrefix namespaces QR session keys.
	RedisPrefix string
}

// PinConfig controls PIN issuance, lockout, and expiry.
type PinConfig struct {
	Digits          int
	MaxAttempts     int
	TTL             time.Duration
	LockoutDuration time.Duration
}

// InvitationConfig controls the invitation credential subsystem.
type InvitationConfig struct {
	// CodeLength is the invitation code length (lowercase alphanumeric).
	CodeLength int
	// PinDigits is the invitation PIN length.
	PinDigits int
	// URLTokenBytes is the entropy of the one-time URL token before
	// base64url encoding. 48 bytes encode to 64 URL-safe characters.
	URLTokenBytes int
	// LinkTTL is the outer link validity window, measured from issuance.
	LinkTTL time.Duration
	// SessionWindow is the inner window started by the first link open.
	// It is set exactly once and never renewed.
	SessionWindow time.Duration
	// MaxCollisionRetries bounds code/token regeneration on uniqueness
	// collisions at creation.
	MaxCollisionRetries int
	// RedisPrefix namespaces invitation keys.
	RedisPrefix string
}

// LimitConfig is a single sliding-window rate limiter class.
type LimitConfig struct {
	MaxRequests   int
	Window        time.Duration
	BlockDuration time.Duration
}

// RateLimitConfig holds one limiter class per guarded operation. Distinct
// instances are constructed at Build so that, e.g., PIN verification is
// throttled more strictly than QR issuance.
type RateLimitConfig struct {
	Enabled    bool
	Issue      LimitConfig
	Scan       LimitConfig
	Verify     LimitConfig
	Invitation LimitConfig
	Create     LimitConfig
}

// CredentialConfig configures the default JWT credential issuer. Ignored
// when a custom issuer is supplied via [Builder.WithCredentialIssuer].
type CredentialConfig struct {
	SessionTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
}

// AuditConfig controls dispatcher buffering behavior.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig enables the in-process atomic counters.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		QR: QRConfig{
			CodeLength:  20,
			HiddenCount: 10,
			Expiry:      5 * time.Minute,
			RedisPrefix: "qs",
		},
		Pin: PinConfig{
			Digits:          6,
			MaxAttempts:     3,
			TTL:             2 * time.Minute,
			LockoutDuration: 15 * time.Minute,
		},
		Invitation: InvitationConfig{
			CodeLength:          15,
			PinDigits:           6,
			URLTokenBytes:       48,
			LinkTTL:             24 * time.Hour,
			SessionWindow:       5 * time.Hour,
			MaxCollisionRetries: 10,
			RedisPrefix:         "inv",
		},
		RateLimit: RateLimitConfig{
			Enabled:    true,
			Issue:      LimitConfig{MaxRequests: 20, Window: time.Minute, BlockDuration: 5 * time.Minute},
			Scan:       LimitConfig{MaxRequests: 10, Window: time.Minute, BlockDuration: 5 * time.Minute},
			Verify:     LimitConfig{MaxRequests: 5, Window: time.Minute, BlockDuration: 5 * time.Minute},
			Invitation: LimitConfig{MaxRequests: 5, Window: time.Minute, BlockDuration: 5 * time.Minute},
			Create:     LimitConfig{MaxRequests: 3, Window: 5 * time.Minute, BlockDuration: 15 * time.Minute},
		},
		Credential: CredentialConfig{
			SessionTTL:    30 * time.Minute,
			SigningMethod: "ed25519",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Credential.PrivateKey = cloneBytes(cfg.Credential.PrivateKey)
	out.Credential.PublicKey = cloneBytes(cfg.Credential.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first structural problem in the configuration.
func (c *Config) Validate() error {
	if c.QR.CodeLength <= 0 {
		return errors.New("QR CodeLength must be > 0")
	}
	if c.QR.CodeLength > 255 {
		return errors.New("QR CodeLength must be <= 255")
	}
	if c.QR.HiddenCount < 0 {
		return errors.New("QR HiddenCount must be >= 0")
	}
	if c.QR.HiddenCount > c.QR.CodeLength {
		return errors.New("QR HiddenCount must not exceed CodeLength")
	}
	if c.QR.Expiry <= 0 {
		return errors.New("QR Expiry must be > 0")
	}
	if c.QR.RedisPrefix == "" {
		return errors.New("QR RedisPrefix is required")
	}

	if c.Pin.Digits < 4 || c.Pin.Digits > 10 {
		return errors.New("Pin Digits must be between 4 and 10")
	}
	if c.Pin.MaxAttempts <= 0 {
		return errors.New("Pin MaxAttempts must be > 0")
	}
	if c.Pin.TTL <= 0 {
		return errors.New("Pin TTL must be > 0")
	}
	if c.Pin.LockoutDuration <= 0 {
		return errors.New("Pin LockoutDuration must be > 0")
	}

	if c.Invitation.CodeLength < 8 {
		return errors.New("Invitation CodeLength must be >= 8")
	}
	if c.Invitation.PinDigits < 4 || c.Invitation.PinDigits > 10 {
		return errors.New("Invitation PinDigits must be between 4 and 10")
	}
	if c.Invitation.URLTokenBytes < 24 {
		return errors.New("Invitation URLTokenBytes must be >= 24")
	}
	if c.Invitation.LinkTTL <= 0 {
		return errors.New("Invitation LinkTTL must be > 0")
	}
	if c.Invitation.SessionWindow <= 0 {
		return errors.New("Invitation SessionWindow must be > 0")
	}
	if c.Invitation.MaxCollisionRetries <= 0 {
		return errors.New("Invitation MaxCollisionRetries must be > 0")
	}
	if c.Invitation.RedisPrefix == "" {
		return errors.New("Invitation RedisPrefix is required")
	}

	if c.RateLimit.Enabled {
		classes := map[string]LimitConfig{
			"Issue":      c.RateLimit.Issue,
			"Scan":       c.RateLimit.Scan,
			"Verify":     c.RateLimit.Verify,
			"Invitation": c.RateLimit.Invitation,
			"Create":     c.RateLimit.Create,
		}
		for name, lc := range classes {
			if lc.MaxRequests <= 0 {
				return errors.New("RateLimit " + name + " MaxRequests must be > 0")
			}
			if lc.Window <= 0 {
				return errors.New("RateLimit " + name + " Window must be > 0")
			}
			if lc.BlockDuration <= 0 {
				return errors.New("RateLimit " + name + " BlockDuration must be > 0")
			}
		}
	}

	if c.Credential.SessionTTL <= 0 {
		return errors.New("Credential SessionTTL must be > 0")
	}
	if c.Credential.SigningMethod != "ed25519" && c.Credential.SigningMethod != "hs256" {
		return errors.New("unsupported Credential signing method")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
