package qrlink

import (
	"context"
	"testing"
)

func builderTestConfig() Config {
	cfg := defaultConfig()
	cfg.Credential.SigningMethod = "hs256"
	cfg.Credential.PrivateKey = []byte("test-signing-secret")
	return cfg
}

func TestBuilderRequiresCollaborators(t *testing.T) {
	_, rdb := newTestRedis(t)
	services, users := testDirectories()

	if _, err := New().WithConfig(builderTestConfig()).Build(); err == nil {
		t.Fatal("expected error without redis")
	}
	if _, err := New().WithConfig(builderTestConfig()).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected error without service directory")
	}
	if _, err := New().WithConfig(builderTestConfig()).WithRedis(rdb).WithServiceDirectory(services).Build(); err == nil {
		t.Fatal("expected error without user directory")
	}

	engine, err := New().
		WithConfig(builderTestConfig()).
		WithRedis(rdb).
		WithServiceDirectory(services).
		WithUserDirectory(users).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if engine.issueLimiter == nil || engine.verifyLimiter == nil || engine.createLimiter == nil {
		t.Fatal("expected limiters wired by default")
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	_, rdb := newTestRedis(t)
	services, users := testDirectories()

	b := New().
		WithConfig(builderTestConfig()).
		WithRedis(rdb).
		WithServiceDirectory(services).
		WithUserDirectory(users)

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected error on second Build")
	}
}

func TestBuilderDefaultIssuerNeedsKeys(t *testing.T) {
	_, rdb := newTestRedis(t)
	services, users := testDirectories()

	// Default ed25519 config without keys: Build must fail rather than
	// produce an engine that cannot complete a handshake.
	if _, err := New().
		WithRedis(rdb).
		WithServiceDirectory(services).
		WithUserDirectory(users).
		Build(); err == nil {
		t.Fatal("expected error without credential keys")
	}
}

func TestBuiltEngineIssuesRealCredential(t *testing.T) {
	_, rdb := newTestRedis(t)
	services, users := testDirectories()

	engine, err := New().
		WithConfig(builderTestConfig()).
		WithRedis(rdb).
		WithServiceDirectory(services).
		WithUserDirectory(users).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	ctx := context.Background()
	issued, err := engine.IssueQR(ctx, "svc-1", "svc-key-1")
	if err != nil {
		t.Fatalf("IssueQR failed: %v", err)
	}
	scanned, err := engine.ScanQR(ctx, "authkey-alice", issued.Pattern, nil)
	if err != nil {
		t.Fatalf("ScanQR failed: %v", err)
	}
	verified, err := engine.VerifyPIN(ctx, issued.Token, scanned.PIN)
	if err != nil {
		t.Fatalf("VerifyPIN failed: %v", err)
	}
	if verified.Credential == "" {
		t.Fatal("expected signed credential from default issuer")
	}
}

func TestZeroValueEngineRejectsCalls(t *testing.T) {
	var engine Engine
	if _, err := engine.IssueQR(context.Background(), "svc", "key"); err != ErrEngineNotReady {
		t.Fatalf("err = %v, want ErrEngineNotReady", err)
	}
	if _, err := engine.CreateInvitation(context.Background(), CreateInvitationInput{}); err != ErrEngineNotReady {
		t.Fatalf("err = %v, want ErrEngineNotReady", err)
	}
}
