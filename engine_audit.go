package qrlink

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventQRIssued             = "qr_issued"
	auditEventQRIssueFailure       = "qr_issue_failure"
	auditEventQRScanned            = "qr_scanned"
	auditEventQRScanFailure        = "qr_scan_failure"
	auditEventPinVerified          = "pin_verified"
	auditEventPinVerifyFailure     = "pin_verify_failure"
	auditEventPinLockout           = "pin_lockout"
	auditEventInvitationCreated    = "invitation_created"
	auditEventInvitationVerified   = "invitation_verified"
	auditEventInvitationRejected   = "invitation_rejected"
	auditEventInvitationLinkOpened = "invitation_link_opened"
	auditEventInvitationUsed       = "invitation_used"
	auditEventRateLimitTriggered   = "rate_limit_triggered"
)

// AuditErrorCode is the stable error identifier recorded on audit events in
// place of raw error strings.
type AuditErrorCode string

const (
	auditErrInvalidService     AuditErrorCode = "invalid_service_credentials"
	auditErrInvalidUser        AuditErrorCode = "invalid_user_credentials"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrInvalidPattern     AuditErrorCode = "invalid_pattern"
	auditErrSessionExpired     AuditErrorCode = "session_expired"
	auditErrAlreadyScanned     AuditErrorCode = "already_scanned"
	auditErrAlreadyVerified    AuditErrorCode = "already_verified"
	auditErrNotScanned         AuditErrorCode = "not_scanned"
	auditErrPinExpired         AuditErrorCode = "pin_expired"
	auditErrPinInvalid         AuditErrorCode = "pin_invalid"
	auditErrPinLocked          AuditErrorCode = "pin_locked"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvitationNotFound AuditErrorCode = "invitation_not_found"
	auditErrInvitationUsed     AuditErrorCode = "invitation_used"
	auditErrLinkExpired        AuditErrorCode = "link_expired"
	auditErrSessionWindowOver  AuditErrorCode = "session_window_expired"
	auditErrStoreUnavailable   AuditErrorCode = "store_unavailable"
	auditErrCredentialIssue    AuditErrorCode = "credential_issue_failed"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	serviceID string,
	sessionToken string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		UserID:       userID,
		ServiceID:    serviceID,
		SessionToken: sessionToken,
		IP:           clientIPFromContext(ctx),
		Success:      success,
		Metadata:     metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	metadataBuilder func() map[string]string,
) {
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", "", ErrRateLimited, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidServiceCredentials):
		return auditErrInvalidService
	case errors.Is(err, ErrInvalidUserCredentials):
		return auditErrInvalidUser
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrInvalidPattern):
		return auditErrInvalidPattern
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrAlreadyScanned):
		return auditErrAlreadyScanned
	case errors.Is(err, ErrAlreadyVerified):
		return auditErrAlreadyVerified
	case errors.Is(err, ErrNotScanned):
		return auditErrNotScanned
	case errors.Is(err, ErrPinExpired):
		return auditErrPinExpired
	case errors.Is(err, ErrPinInvalid):
		return auditErrPinInvalid
	case errors.Is(err, ErrPinLocked):
		return auditErrPinLocked
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvitationNotFound):
		return auditErrInvitationNotFound
	case errors.Is(err, ErrInvitationUsed):
		return auditErrInvitationUsed
	case errors.Is(err, ErrInvitationLinkExpired):
		return auditErrLinkExpired
	case errors.Is(err, ErrInvitationSessionExpired):
		return auditErrSessionWindowOver
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrStoreUnavailable
	case errors.Is(err, ErrCredentialIssue):
		return auditErrCredentialIssue
	default:
		return auditErrInternal
	}
}
