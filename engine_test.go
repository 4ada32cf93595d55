package qrlink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/misid/qrlink/internal/rate"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// testClock drives engine time in tests without sleeping.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type mockServiceDirectory struct {
	services map[string]ServiceRecord
}

func (d *mockServiceDirectory) GetServiceByID(_ context.Context, serviceID string) (ServiceRecord, error) {
	svc, ok := d.services[serviceID]
	if !ok {
		return ServiceRecord{}, errors.New("no such service")
	}
	return svc, nil
}

type mockUserDirectory struct {
	byAuthKey map[string]UserRecord
	byID      map[string]UserRecord
}

func (d *mockUserDirectory) GetUserByAuthKey(_ context.Context, authKey string) (UserRecord, error) {
	user, ok := d.byAuthKey[authKey]
	if !ok {
		return UserRecord{}, errors.New("no such user")
	}
	return user, nil
}

func (d *mockUserDirectory) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	user, ok := d.byID[userID]
	if !ok {
		return UserRecord{}, errors.New("no such user")
	}
	return user, nil
}

// staticIssuer returns a fixed credential so handshake tests do not depend
// on key material.
type staticIssuer struct {
	credential string
	err        error
}

func (i *staticIssuer) IssueSessionCredential(context.Context, UserRecord, string, string, time.Duration) (string, error) {
	return i.credential, i.err
}

func testDirectories() (*mockServiceDirectory, *mockUserDirectory) {
	services := &mockServiceDirectory{
		services: map[string]ServiceRecord{
			"svc-1": {ServiceID: "svc-1", Name: "Payroll Portal", APIKey: "svc-key-1", Active: true},
			"svc-2": {ServiceID: "svc-2", Name: "Disabled Portal", APIKey: "svc-key-2", Active: false},
		},
	}
	alice := UserRecord{
		UserID:   "u-alice",
		AuthKey:  "authkey-alice",
		Username: "alice",
		FullName: "Alice Example",
		Email:    "alice@example.com",
		Active:   true,
	}
	users := &mockUserDirectory{
		byAuthKey: map[string]UserRecord{alice.AuthKey: alice},
		byID:      map[string]UserRecord{alice.UserID: alice},
	}
	return services, users
}

// newTestEngine builds an engine on miniredis with a controllable clock and
// limiters disabled. Tests that exercise limiters attach them directly.
func newTestEngine(t *testing.T, cfg Config) (*Engine, *testClock, *miniredis.Miniredis) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	services, users := testDirectories()
	clock := newTestClock()

	qrRetention := cfg.QR.Expiry + cfg.Pin.TTL + cfg.Pin.LockoutDuration

	engine := &Engine{
		config:      cfg,
		sessions:    newQRSessionStore(rdb, cfg.QR.RedisPrefix, qrRetention),
		invitations: newInvitationStore(rdb, cfg.Invitation.RedisPrefix, cfg.Invitation.SessionWindow),
		pins:        newPinVerifier(cfg.Pin),
		services:    services,
		users:       users,
		issuer:      &staticIssuer{credential: "test-credential"},
		metrics:     NewMetrics(MetricsConfig{Enabled: true}),
		now:         clock.Now,
	}
	t.Cleanup(engine.Close)

	return engine, clock, mr
}

func attachVerifyLimiter(e *Engine, lc LimitConfig) {
	e.verifyLimiter = rate.New(rate.Config{
		MaxRequests:   lc.MaxRequests,
		Window:        lc.Window,
		BlockDuration: lc.BlockDuration,
	}, nil)
}
