// Package qrlink provides a cross-device login handshake engine: a requesting
// service obtains an obfuscated QR pattern, a mobile app scans it to bind a
// user identity, and a short-lived numeric PIN is exchanged back through the
// original service to complete login. A parallel invitation subsystem issues
// time-boxed credentials (code + PIN + one-time URL token) with two nested
// expiry windows gating a registration flow.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// qrlink is the public surface. It exposes [Engine], [Builder], [Config], and
// value types (IssueQRResult, InvitationVerifyResult, etc.). Internal
// coordination (code obfuscation, sliding-window rate limiting) lives under
// internal/ and is never exported. External collaborators (service/user
// directories, the downstream credential issuer, the notification sender) are
// consumed through interfaces and never implemented here beyond the default
// JWT credential issuer in jwt/.
//
// # What this package must NOT do
//
//   - Expose Redis clients, stores, or record encodings in its public API.
//   - Run background timers: all expiry is evaluated lazily against stored
//     deadlines at access time.
//   - Let audit or notification failures propagate into a primary state
//     transition.
package qrlink
