package qrlink

import (
	"time"

	"github.com/misid/qrlink/internal/obfuscate"
)

// SessionStatus is the QR session lifecycle state. Transitions are closed:
// PENDING -> PIN_GENERATED -> COMPLETED, with EXPIRED reachable from both
// PENDING and PIN_GENERATED once the session deadline passes. Terminal
// states never move again.
type SessionStatus uint8

const (
	// StatusPending is the state between issuance and scan.
	StatusPending SessionStatus = iota
	// StatusPinGenerated is the state between scan and PIN verification.
	StatusPinGenerated
	// StatusCompleted is the terminal success state.
	StatusCompleted
	// StatusExpired is the terminal state for sessions touched after their
	// deadline, whether or not they were scanned first. Expiry is evaluated
	// lazily; an untouched session simply ages out of the store.
	StatusExpired
)

func (s SessionStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusPinGenerated:
		return "PIN_GENERATED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// qrSession is the stored QR handshake state. The ground-truth code and the
// obfuscation map stay server-side; only the masked pattern is rendered.
type qrSession struct {
	Token     string
	ServiceID string

	Code          string
	HiddenIndices []int

	Status SessionStatus

	PIN         string
	PinAttempts uint16

	UserID     string
	DeviceInfo map[string]string

	// IP provenance for each handshake leg: the service that issued the
	// session, the device that scanned it, and the caller that submitted
	// the PIN. Empty when the context carried no client IP.
	ClientIP   string
	ScannerIP  string
	VerifierIP string

	// Unix seconds. Zero means unset.
	CreatedAt    int64
	ExpiresAt    int64
	ScannedAt    int64
	PinExpiresAt int64
	LockedUntil  int64
	CompletedAt  int64
}

func (s *qrSession) obfuscationMap() obfuscate.Map {
	visible := make([]int, 0, len(s.Code)-len(s.HiddenIndices))
	hidden := make(map[int]bool, len(s.HiddenIndices))
	for _, i := range s.HiddenIndices {
		hidden[i] = true
	}
	for i := 0; i < len(s.Code); i++ {
		if !hidden[i] {
			visible = append(visible, i)
		}
	}
	return obfuscate.Map{
		HiddenIndices:  s.HiddenIndices,
		VisibleIndices: visible,
	}
}

func (s *qrSession) pattern() string {
	return obfuscate.Apply(s.Code, s.obfuscationMap())
}

func (s *qrSession) expired(now time.Time) bool {
	return s.ExpiresAt > 0 && now.Unix() > s.ExpiresAt
}
