package qrlink

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/misid/qrlink/internal"
	"github.com/misid/qrlink/internal/obfuscate"
)

// IssueQR creates a new QR login session for the given service. The
// returned pattern is the obfuscated session code for rendering as a QR
// image; the token is the opaque reference the service holds for later
// polling and PIN verification.
func (e *Engine) IssueQR(ctx context.Context, serviceID, apiKey string) (*IssueQRResult, error) {
	if e == nil || e.sessions == nil || e.services == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.checkLimiter(ctx, e.issueLimiter, "qr_issue", limiterKey(ctx, serviceID)); err != nil {
		e.metricInc(MetricQRIssueFailure)
		e.emitAudit(ctx, auditEventQRIssueFailure, false, "", serviceID, "", err, nil)
		return nil, err
	}

	svc, err := e.services.GetServiceByID(ctx, serviceID)
	if err != nil || !svc.Active ||
		subtle.ConstantTimeCompare([]byte(svc.APIKey), []byte(apiKey)) != 1 {
		e.metricInc(MetricQRIssueFailure)
		e.emitAudit(ctx, auditEventQRIssueFailure, false, "", serviceID, "", ErrInvalidServiceCredentials, func() map[string]string {
			return map[string]string{
				"reason": "service_lookup",
			}
		})
		return nil, ErrInvalidServiceCredentials
	}

	code, err := internal.NewCode(e.config.QR.CodeLength, internal.CodeAlphabet)
	if err != nil {
		e.metricInc(MetricQRIssueFailure)
		return nil, err
	}
	m, err := obfuscate.GenerateMap(e.config.QR.CodeLength, e.config.QR.HiddenCount)
	if err != nil {
		e.metricInc(MetricQRIssueFailure)
		if errors.Is(err, obfuscate.ErrInvalidConfiguration) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
		return nil, err
	}

	now := e.clock()
	sess := &qrSession{
		Token:         uuid.NewString(),
		ServiceID:     svc.ServiceID,
		Code:          code,
		HiddenIndices: m.HiddenIndices,
		Status:        StatusPending,
		ClientIP:      clientIPFromContext(ctx),
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(e.config.QR.Expiry).Unix(),
	}

	if err := e.sessions.Save(ctx, sess); err != nil {
		e.metricInc(MetricQRIssueFailure)
		e.emitAudit(ctx, auditEventQRIssueFailure, false, "", serviceID, sess.Token, err, nil)
		return nil, err
	}

	e.metricInc(MetricQRIssued)
	e.emitAudit(ctx, auditEventQRIssued, true, "", svc.ServiceID, sess.Token, nil, nil)

	return &IssueQRResult{
		Token:       sess.Token,
		Pattern:     obfuscate.Apply(code, m),
		ServiceName: svc.Name,
		ExpiresIn:   e.config.QR.Expiry,
	}, nil
}

// ScanQR binds an authenticated mobile user to a pending session and mints
// the verification PIN. The scanned argument is whatever the app read from
// the QR image: the obfuscated pattern normally, or the raw token for
// deep-link flows. Pattern lookup is attempted first.
func (e *Engine) ScanQR(ctx context.Context, authKey, scanned string, info DeviceInfo) (*ScanQRResult, error) {
	if e == nil || e.sessions == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.checkLimiter(ctx, e.scanLimiter, "qr_scan", limiterKey(ctx, authKey)); err != nil {
		e.metricInc(MetricQRScanFailure)
		e.emitAudit(ctx, auditEventQRScanFailure, false, "", "", "", err, nil)
		return nil, err
	}

	found, err := e.sessions.GetByPattern(ctx, scanned)
	if errors.Is(err, ErrSessionNotFound) {
		found, err = e.sessions.GetByToken(ctx, scanned)
	}
	if err != nil {
		e.metricInc(MetricQRScanFailure)
		e.emitAudit(ctx, auditEventQRScanFailure, false, "", "", "", err, nil)
		return nil, err
	}

	now := e.clock()

	// Session state is checked before the user is resolved, so a dead or
	// consumed session is reported (and its lazy expiry persisted) without
	// revealing whether the scanner's credentials were valid.
	if _, err := e.sessions.Mutate(ctx, found.Token, func(sess *qrSession) (bool, error) {
		return scanEligibility(sess, scanned, now)
	}); err != nil {
		if errors.Is(err, ErrSessionExpired) {
			e.metricInc(MetricQRExpired)
		}
		e.metricInc(MetricQRScanFailure)
		e.emitAudit(ctx, auditEventQRScanFailure, false, "", found.ServiceID, found.Token, err, nil)
		return nil, err
	}

	user, err := e.users.GetUserByAuthKey(ctx, authKey)
	if err != nil || !user.Active {
		e.metricInc(MetricQRScanFailure)
		e.emitAudit(ctx, auditEventQRScanFailure, false, "", found.ServiceID, found.Token, ErrInvalidUserCredentials, func() map[string]string {
			return map[string]string{
				"reason": "user_lookup",
			}
		})
		return nil, ErrInvalidUserCredentials
	}

	pin, err := internal.NewPIN(e.config.Pin.Digits)
	if err != nil {
		e.metricInc(MetricQRScanFailure)
		return nil, err
	}

	sess, err := e.sessions.Mutate(ctx, found.Token, func(sess *qrSession) (bool, error) {
		// Re-checked under WATCH: a concurrent scan or expiry between the
		// eligibility pass and this bind loses here.
		if write, err := scanEligibility(sess, scanned, now); err != nil {
			return write, err
		}

		sess.Status = StatusPinGenerated
		sess.UserID = user.UserID
		sess.PIN = pin
		sess.PinAttempts = 0
		sess.ScannerIP = clientIPFromContext(ctx)
		sess.ScannedAt = now.Unix()
		sess.PinExpiresAt = now.Add(e.config.Pin.TTL).Unix()

		sess.DeviceInfo = map[string]string(info)
		if sess.DeviceInfo == nil {
			sess.DeviceInfo = map[string]string{}
		}
		if _, ok := sess.DeviceInfo["user_agent"]; !ok {
			if ua := userAgentFromContext(ctx); ua != "" {
				sess.DeviceInfo["user_agent"] = ua
			}
		}

		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			e.metricInc(MetricQRExpired)
		}
		e.metricInc(MetricQRScanFailure)
		e.emitAudit(ctx, auditEventQRScanFailure, false, user.UserID, found.ServiceID, found.Token, err, nil)
		return nil, err
	}

	e.metricInc(MetricQRScanned)
	e.emitAudit(ctx, auditEventQRScanned, true, user.UserID, sess.ServiceID, sess.Token, nil, nil)

	return &ScanQRResult{
		PIN:       pin,
		ExpiresIn: e.config.Pin.TTL,
	}, nil
}

// scanEligibility decides whether a session can accept a scan. Returning
// write=true asks the store to persist the lazy EXPIRED transition alongside
// the error. Deadline checks run before the already-scanned check so a stale
// PIN_GENERATED session reports expiry, not reuse.
func scanEligibility(sess *qrSession, scanned string, now time.Time) (bool, error) {
	switch sess.Status {
	case StatusCompleted:
		return false, ErrAlreadyVerified
	case StatusExpired:
		return false, ErrSessionExpired
	}

	if sess.expired(now) {
		sess.Status = StatusExpired
		return true, ErrSessionExpired
	}

	if sess.Status == StatusPinGenerated {
		return false, ErrAlreadyScanned
	}

	// A raw token presented as-is skips structural validation; anything
	// else must be the exact pattern for this session's code and map.
	if scanned != sess.Token && !obfuscate.Validate(sess.Code, scanned, sess.obfuscationMap()) {
		return false, ErrInvalidPattern
	}

	return false, nil
}

// VerifyPIN completes the handshake: the requesting service submits the PIN
// relayed by the user, and on match receives the downstream session
// credential for the bound user.
func (e *Engine) VerifyPIN(ctx context.Context, token, pin string) (*VerifyPINResult, error) {
	if e == nil || e.sessions == nil || e.pins == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.checkLimiter(ctx, e.verifyLimiter, "pin_verify", limiterKey(ctx, token)); err != nil {
		e.metricInc(MetricPinFailure)
		e.emitAudit(ctx, auditEventPinVerifyFailure, false, "", "", token, err, nil)
		return nil, err
	}

	now := e.clock()
	sess, err := e.sessions.Mutate(ctx, token, func(sess *qrSession) (bool, error) {
		switch sess.Status {
		case StatusPending:
			if sess.expired(now) {
				sess.Status = StatusExpired
				return true, ErrSessionExpired
			}
			return false, ErrNotScanned
		case StatusCompleted:
			return false, ErrAlreadyVerified
		case StatusExpired:
			return false, ErrSessionExpired
		}

		// Recorded before the attempt so failed tries keep the caller's IP
		// once the attempt counter is written back.
		if ip := clientIPFromContext(ctx); ip != "" {
			sess.VerifierIP = ip
		}

		write, err := e.pins.verify(sess, pin, now)
		if err != nil {
			return write, err
		}

		sess.Status = StatusCompleted
		sess.CompletedAt = now.Unix()
		return true, nil
	})
	if err != nil {
		e.metricInc(MetricPinFailure)
		if errors.Is(err, ErrPinLocked) {
			e.metricInc(MetricPinLockout)
			e.emitAudit(ctx, auditEventPinLockout, false, "", "", token, err, nil)
		} else {
			e.emitAudit(ctx, auditEventPinVerifyFailure, false, "", "", token, err, nil)
		}
		return nil, err
	}

	user, err := e.users.GetUserByID(ctx, sess.UserID)
	if err != nil || !user.Active {
		e.emitAudit(ctx, auditEventPinVerifyFailure, false, sess.UserID, sess.ServiceID, token, ErrUserNotFound, nil)
		return nil, ErrUserNotFound
	}

	credential, err := e.issuer.IssueSessionCredential(ctx, user, sess.ServiceID, sess.Token, e.config.Credential.SessionTTL)
	if err != nil {
		e.emitAudit(ctx, auditEventPinVerifyFailure, false, user.UserID, sess.ServiceID, token, ErrCredentialIssue, nil)
		return nil, fmt.Errorf("%w: %v", ErrCredentialIssue, err)
	}

	e.metricInc(MetricPinVerified)
	e.metricInc(MetricCredentialIssued)
	e.emitAudit(ctx, auditEventPinVerified, true, user.UserID, sess.ServiceID, sess.Token, nil, nil)

	return &VerifyPINResult{
		Credential: credential,
		User:       user,
		ExpiresIn:  e.config.Credential.SessionTTL,
	}, nil
}

// SessionStatus reports the current lifecycle state of a session. A pending
// session past its deadline is transitioned to EXPIRED and persisted, so
// pollers observe the terminal state directly.
func (e *Engine) SessionStatus(ctx context.Context, token string) (SessionStatus, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	now := e.clock()
	sess, err := e.sessions.Mutate(ctx, token, func(sess *qrSession) (bool, error) {
		if (sess.Status == StatusPending || sess.Status == StatusPinGenerated) && sess.expired(now) {
			sess.Status = StatusExpired
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return 0, err
	}

	return sess.Status, nil
}
