package qrlink

import (
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"zero code length", func(cfg *Config) { cfg.QR.CodeLength = 0 }},
		{"hidden exceeds length", func(cfg *Config) { cfg.QR.HiddenCount = cfg.QR.CodeLength + 1 }},
		{"zero qr expiry", func(cfg *Config) { cfg.QR.Expiry = 0 }},
		{"missing qr prefix", func(cfg *Config) { cfg.QR.RedisPrefix = "" }},
		{"pin too short", func(cfg *Config) { cfg.Pin.Digits = 3 }},
		{"zero max attempts", func(cfg *Config) { cfg.Pin.MaxAttempts = 0 }},
		{"zero lockout", func(cfg *Config) { cfg.Pin.LockoutDuration = 0 }},
		{"short invitation code", func(cfg *Config) { cfg.Invitation.CodeLength = 4 }},
		{"weak url token", func(cfg *Config) { cfg.Invitation.URLTokenBytes = 8 }},
		{"zero session window", func(cfg *Config) { cfg.Invitation.SessionWindow = 0 }},
		{"zero limiter window", func(cfg *Config) { cfg.RateLimit.Verify.Window = 0 }},
		{"zero credential ttl", func(cfg *Config) { cfg.Credential.SessionTTL = 0 }},
		{"bogus signing method", func(cfg *Config) { cfg.Credential.SigningMethod = "rot13" }},
		{"audit enabled zero buffer", func(cfg *Config) {
			cfg.Audit.Enabled = true
			cfg.Audit.BufferSize = 0
		}},
	}

	for _, tc := range cases {
		cfg := defaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestValidateSkipsLimiterClassesWhenDisabled(t *testing.T) {
	cfg := defaultConfig()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.Verify = LimitConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled limiter classes must not be validated: %v", err)
	}
}

func TestCloneConfigCopiesKeyMaterial(t *testing.T) {
	cfg := defaultConfig()
	cfg.Credential.SigningMethod = "hs256"
	cfg.Credential.PrivateKey = []byte("secret")

	clone := cloneConfig(cfg)
	clone.Credential.PrivateKey[0] = 'X'

	if cfg.Credential.PrivateKey[0] != 's' {
		t.Fatal("clone shares key material with original")
	}
	if clone.Credential.SessionTTL != 30*time.Minute {
		t.Fatalf("clone lost fields: %v", clone.Credential.SessionTTL)
	}
}
