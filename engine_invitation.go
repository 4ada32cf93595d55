package qrlink

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"strings"

	"github.com/misid/qrlink/internal"
)

const invitationRejectedMessage = "invalid or expired invitation"

// CreateInvitation issues a new invitation credential: a typeable code, a
// numeric PIN, and a single one-time URL token. Identifier collisions are
// retried with fresh values; the notifier is best-effort and never fails
// the creation.
func (e *Engine) CreateInvitation(ctx context.Context, input CreateInvitationInput) (*InvitationRecord, error) {
	if e == nil || e.invitations == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.checkLimiter(ctx, e.createLimiter, "invitation_create", limiterKey(ctx, input.CreatedBy)); err != nil {
		e.emitAudit(ctx, auditEventInvitationCreated, false, input.CreatedBy, "", "", err, nil)
		return nil, err
	}

	linkTTL := input.LinkTTL
	if linkTTL <= 0 {
		linkTTL = e.config.Invitation.LinkTTL
	}

	now := e.clock()
	var inv *invitation

	for attempt := 0; attempt < e.config.Invitation.MaxCollisionRetries; attempt++ {
		code, err := internal.NewCode(e.config.Invitation.CodeLength, internal.InvitationAlphabet)
		if err != nil {
			return nil, err
		}
		pin, err := internal.NewPIN(e.config.Invitation.PinDigits)
		if err != nil {
			return nil, err
		}
		urlToken, err := internal.NewURLToken(e.config.Invitation.URLTokenBytes)
		if err != nil {
			return nil, err
		}

		candidate := &invitation{
			Code:          code,
			PIN:           pin,
			URLToken:      urlToken,
			CreatedBy:     input.CreatedBy,
			IntendedEmail: input.IntendedEmail,
			IntendedName:  input.IntendedName,
			Notes:         input.Notes,
			CreatedAt:     now.Unix(),
			ExpiresAt:     now.Add(linkTTL).Unix(),
		}

		err = e.invitations.Create(ctx, candidate, now)
		if errors.Is(err, errInvitationCollision) {
			continue
		}
		if err != nil {
			e.emitAudit(ctx, auditEventInvitationCreated, false, input.CreatedBy, "", "", err, nil)
			return nil, err
		}

		inv = candidate
		break
	}

	if inv == nil {
		e.emitAudit(ctx, auditEventInvitationCreated, false, input.CreatedBy, "", "", ErrStoreUnavailable, func() map[string]string {
			return map[string]string{
				"reason": "collision_retries_exhausted",
			}
		})
		return nil, ErrStoreUnavailable
	}

	record := inv.record()

	if e.notifier != nil && record.IntendedEmail != "" {
		if err := e.notifier.SendInvitationIssued(ctx, record); err != nil {
			log.Print("qrlink: invitation notification failed")
		}
	}

	e.metricInc(MetricInvitationCreated)
	e.emitAudit(ctx, auditEventInvitationCreated, true, input.CreatedBy, "", "", nil, func() map[string]string {
		return map[string]string{
			"code": inv.Code,
		}
	})

	return &record, nil
}

// VerifyInvitation checks a code + PIN pair. Every failure collapses into
// Valid=false with one generic message, so a caller probing codes learns
// nothing about which check failed; the audit trail records the real
// reason. The error return is reserved for infrastructure failures.
func (e *Engine) VerifyInvitation(ctx context.Context, code, pin string) (*InvitationVerifyResult, error) {
	if e == nil || e.invitations == nil {
		return nil, ErrEngineNotReady
	}

	// Codes are typed by hand: stray whitespace and caps are forgiven
	// before lookup and compare.
	code = normalizeInvitationCode(code)
	pin = strings.TrimSpace(pin)

	if err := e.checkLimiter(ctx, e.invitationLimiter, "invitation_verify", limiterKey(ctx, code)); err != nil {
		return nil, err
	}

	rejected := func(reason error) *InvitationVerifyResult {
		e.metricInc(MetricInvitationRejected)
		e.emitAudit(ctx, auditEventInvitationRejected, false, "", "", "", reason, func() map[string]string {
			return map[string]string{
				"code": code,
			}
		})
		return &InvitationVerifyResult{
			Valid:   false,
			Message: invitationRejectedMessage,
		}
	}

	now := e.clock()
	inv, err := e.invitations.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			return rejected(ErrInvitationNotFound), nil
		}
		return nil, err
	}

	switch {
	case inv.Used:
		return rejected(ErrInvitationUsed), nil
	case inv.linkExpired(now):
		return rejected(ErrInvitationLinkExpired), nil
	case inv.sessionStarted() && inv.sessionExpired(now):
		return rejected(ErrInvitationSessionExpired), nil
	case subtle.ConstantTimeCompare([]byte(inv.PIN), []byte(pin)) != 1:
		return rejected(ErrPinInvalid), nil
	}

	tr := inv.timeRemaining(now, e.config.Invitation.SessionWindow)

	e.metricInc(MetricInvitationVerified)
	e.emitAudit(ctx, auditEventInvitationVerified, true, "", "", "", nil, func() map[string]string {
		return map[string]string{
			"code": code,
		}
	})

	return &InvitationVerifyResult{
		Valid:         true,
		Code:          inv.Code,
		IntendedFor:   inv.IntendedName,
		Message:       "invitation verified",
		TimeRemaining: &tr,
	}, nil
}

// OpenInvitationLink resolves a one-time URL token. The first open arms the
// session window; every later open within the windows is idempotent and
// never extends a timer. Expired and consumed invitations return typed
// errors so an HTTP layer can map them to 404/410.
func (e *Engine) OpenInvitationLink(ctx context.Context, urlToken string) (*OpenLinkResult, error) {
	if e == nil || e.invitations == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.checkLimiter(ctx, e.invitationLimiter, "invitation_open", limiterKey(ctx, urlToken)); err != nil {
		return nil, err
	}

	found, err := e.invitations.GetByURLToken(ctx, urlToken)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	started := false

	inv, err := e.invitations.Mutate(ctx, found.Code, func(inv *invitation) (bool, error) {
		switch {
		case inv.Used:
			return false, ErrInvitationUsed
		case inv.linkExpired(now):
			return false, ErrInvitationLinkExpired
		case inv.sessionStarted() && inv.sessionExpired(now):
			return false, ErrInvitationSessionExpired
		}

		if inv.sessionStarted() {
			return false, nil
		}

		inv.SessionStartedAt = now.Unix()
		inv.SessionExpiresAt = now.Add(e.config.Invitation.SessionWindow).Unix()
		started = true
		return true, nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventInvitationLinkOpened, false, "", "", "", err, func() map[string]string {
			return map[string]string{
				"code": found.Code,
			}
		})
		return nil, err
	}

	if started {
		e.metricInc(MetricInvitationLinkOpened)
	}
	e.emitAudit(ctx, auditEventInvitationLinkOpened, true, "", "", "", nil, func() map[string]string {
		return map[string]string{
			"code":            inv.Code,
			"session_started": boolString(started),
		}
	})

	return &OpenLinkResult{
		Valid:          true,
		SessionStarted: started,
		Code:           inv.Code,
		TimeRemaining:  inv.timeRemaining(now, e.config.Invitation.SessionWindow),
	}, nil
}

// MarkInvitationUsed terminally consumes an invitation after the downstream
// registration succeeds. Consuming twice fails with ErrInvitationUsed.
func (e *Engine) MarkInvitationUsed(ctx context.Context, code string) error {
	if e == nil || e.invitations == nil {
		return ErrEngineNotReady
	}

	code = normalizeInvitationCode(code)
	now := e.clock()
	_, err := e.invitations.Mutate(ctx, code, func(inv *invitation) (bool, error) {
		if inv.Used {
			return false, ErrInvitationUsed
		}
		inv.Used = true
		inv.UsedAt = now.Unix()
		return true, nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventInvitationUsed, false, "", "", "", err, func() map[string]string {
			return map[string]string{
				"code": code,
			}
		})
		return err
	}

	e.metricInc(MetricInvitationUsed)
	e.emitAudit(ctx, auditEventInvitationUsed, true, "", "", "", nil, func() map[string]string {
		return map[string]string{
			"code": code,
		}
	})

	return nil
}

// InvitationTime reports the current countdowns for a live invitation,
// for rendering on the registration page.
func (e *Engine) InvitationTime(ctx context.Context, code string) (*TimeRemaining, error) {
	if e == nil || e.invitations == nil {
		return nil, ErrEngineNotReady
	}

	inv, err := e.invitations.GetByCode(ctx, normalizeInvitationCode(code))
	if err != nil {
		return nil, err
	}

	now := e.clock()
	switch {
	case inv.Used:
		return nil, ErrInvitationUsed
	case inv.linkExpired(now):
		return nil, ErrInvitationLinkExpired
	case inv.sessionStarted() && inv.sessionExpired(now):
		return nil, ErrInvitationSessionExpired
	}

	tr := inv.timeRemaining(now, e.config.Invitation.SessionWindow)
	return &tr, nil
}

// normalizeInvitationCode maps hand-typed input onto the stored form: codes
// are generated lowercase, so case and surrounding whitespace are dropped.
func normalizeInvitationCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
