package qrlink

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/misid/qrlink/internal/rate"
	"github.com/misid/qrlink/jwt"
)

// Builder assembles an [Engine]. Collaborators are attached with With*
// methods; Build validates the configuration and wires the stores,
// limiters, and dispatchers. A Builder is single-use.
type Builder struct {
	config Config
	redis  *redis.Client

	services ServiceDirectory
	users    UserDirectory
	issuer   CredentialIssuer
	notifier Notifier

	auditSink AuditSink

	built bool
}

func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithServiceDirectory(d ServiceDirectory) *Builder {
	b.services = d
	return b
}

func (b *Builder) WithUserDirectory(d UserDirectory) *Builder {
	b.users = d
	return b
}

// WithCredentialIssuer replaces the default JWT issuer.
func (b *Builder) WithCredentialIssuer(i CredentialIssuer) *Builder {
	b.issuer = i
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink attaches a sink and enables the audit dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.services == nil {
		return nil, errors.New("service directory required")
	}
	if b.users == nil {
		return nil, errors.New("user directory required")
	}

	issuer := b.issuer
	if issuer == nil {
		jm, err := jwt.NewManager(jwt.Config{
			DefaultTTL:    cfg.Credential.SessionTTL,
			SigningMethod: jwt.SigningMethod(cfg.Credential.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Credential.PrivateKey),
			PublicKey:     cloneBytes(cfg.Credential.PublicKey),
		})
		if err != nil {
			return nil, errors.Join(errors.New("default credential issuer unavailable, provide keys or WithCredentialIssuer"), err)
		}
		issuer = &jwtCredentialIssuer{manager: jm}
	}

	// Terminal QR records stay readable through the longest window a
	// client can still legitimately come back in.
	qrRetention := cfg.QR.Expiry + cfg.Pin.TTL + cfg.Pin.LockoutDuration

	engine := &Engine{
		config:      cfg,
		sessions:    newQRSessionStore(b.redis, cfg.QR.RedisPrefix, qrRetention),
		invitations: newInvitationStore(b.redis, cfg.Invitation.RedisPrefix, cfg.Invitation.SessionWindow),
		pins:        newPinVerifier(cfg.Pin),
		services:    b.services,
		users:       b.users,
		issuer:      issuer,
		notifier:    b.notifier,
		audit:       newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:     NewMetrics(cfg.Metrics),
	}

	if cfg.RateLimit.Enabled {
		engine.issueLimiter = newClassLimiter(cfg.RateLimit.Issue, "qr_issue")
		engine.scanLimiter = newClassLimiter(cfg.RateLimit.Scan, "qr_scan")
		engine.verifyLimiter = newClassLimiter(cfg.RateLimit.Verify, "pin_verify")
		engine.invitationLimiter = newClassLimiter(cfg.RateLimit.Invitation, "invitation")
		engine.createLimiter = newClassLimiter(cfg.RateLimit.Create, "invitation_create")
	}

	b.built = true

	return engine, nil
}

func newClassLimiter(lc LimitConfig, scope string) *rate.Limiter {
	return rate.New(rate.Config{
		MaxRequests:   lc.MaxRequests,
		Window:        lc.Window,
		BlockDuration: lc.BlockDuration,
	}, func(string) {
		log.Print("qrlink: rate limit block applied, scope " + scope)
	})
}

// jwtCredentialIssuer adapts [jwt.Manager] to the CredentialIssuer
// interface.
type jwtCredentialIssuer struct {
	manager *jwt.Manager
}

func (i *jwtCredentialIssuer) IssueSessionCredential(_ context.Context, user UserRecord, serviceID, sessionToken string, ttl time.Duration) (string, error) {
	return i.manager.CreateSession(user.UserID, user.FullName, serviceID, sessionToken, ttl)
}
