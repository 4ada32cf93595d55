package qrlink

import (
	"context"
	"time"
)

// ServiceRecord is a registered service as resolved from the caller's
// service directory. APIKey is the shared secret presented on QR issuance.
type ServiceRecord struct {
	ServiceID string
	Name      string
	APIKey    string
	Active    bool
}

// UserRecord is an end user as resolved from the caller's user directory.
// AuthKey is the mobile app's long-lived credential presented on scan.
type UserRecord struct {
	UserID   string
	AuthKey  string
	Username string
	FullName string
	Email    string
	Active   bool
}

// ServiceDirectory resolves registered services. Implementations are
// provided by the embedding application; the engine only checks the API key
// and active flag on the returned record.
type ServiceDirectory interface {
	GetServiceByID(ctx context.Context, serviceID string) (ServiceRecord, error)
}

// UserDirectory resolves users by their mobile auth key at scan time and by
// id when the handshake completes.
type UserDirectory interface {
	GetUserByAuthKey(ctx context.Context, authKey string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
}

// CredentialIssuer mints the downstream session credential handed to the
// requesting service after a successful PIN verification. The default
// implementation wraps [github.com/misid/qrlink/jwt.Manager]; callers may
// substitute their own issuer through [Builder.WithCredentialIssuer].
type CredentialIssuer interface {
	IssueSessionCredential(ctx context.Context, user UserRecord, serviceID, sessionToken string, ttl time.Duration) (string, error)
}

// Notifier dispatches fire-and-forget notifications. Failures are logged
// and swallowed; they never fail the primary operation.
type Notifier interface {
	SendInvitationIssued(ctx context.Context, inv InvitationRecord) error
}

// IssueQRResult is returned by [Engine.IssueQR]. Pattern is the obfuscated
// code to render as a QR image; Token is the opaque session reference the
// service later presents on verify.
type IssueQRResult struct {
	Token       string
	Pattern     string
	ServiceName string
	ExpiresIn   time.Duration
}

// ScanQRResult is returned by [Engine.ScanQR]. The PIN must be entered on
// the requesting service within ExpiresIn.
type ScanQRResult struct {
	PIN       string
	ExpiresIn time.Duration
}

// VerifyPINResult is returned by [Engine.VerifyPIN] on success.
type VerifyPINResult struct {
	Credential string
	User       UserRecord
	ExpiresIn  time.Duration
}

// DeviceInfo carries opaque scanner device metadata recorded on the session.
type DeviceInfo map[string]string

// CreateInvitationInput is the input for [Engine.CreateInvitation].
type CreateInvitationInput struct {
	CreatedBy     string
	IntendedEmail string
	IntendedName  string
	Notes         string

	// LinkTTL overrides Config.Invitation.LinkTTL when > 0.
	LinkTTL time.Duration
}

// InvitationRecord is the public view of an issued invitation credential.
type InvitationRecord struct {
	Code          string
	PIN           string
	URLToken      string
	CreatedBy     string
	IntendedEmail string
	IntendedName  string
	Notes         string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// TimeRemaining is the dual-timer breakdown of an invitation: the outer
// link validity window and the inner post-open session window.
type TimeRemaining struct {
	Link       time.Duration
	Session    time.Duration
	LinkHMS    string
	SessionHMS string
}

// InvitationVerifyResult is returned by [Engine.VerifyInvitation]. Failure
// reasons are deliberately collapsed into Valid=false with a generic
// message so callers cannot distinguish a wrong code from a wrong PIN from
// an expired window; the audit trail records the real reason.
type InvitationVerifyResult struct {
	Valid         bool
	Code          string
	IntendedFor   string
	Message       string
	TimeRemaining *TimeRemaining
}

// OpenLinkResult is returned by [Engine.OpenInvitationLink].
type OpenLinkResult struct {
	Valid          bool
	SessionStarted bool
	Code           string
	TimeRemaining  TimeRemaining
}
