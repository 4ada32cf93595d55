package qrlink

import (
	"fmt"
	"time"
)

// invitation is the stored invitation credential. Two windows gate its use:
// the link window fixed at creation, and the session window armed exactly
// once by the first link open. Neither window is ever extended.
type invitation struct {
	Code     string
	PIN      string
	URLToken string

	CreatedBy     string
	IntendedEmail string
	IntendedName  string
	Notes         string

	Used bool

	// Unix seconds. Zero means unset.
	CreatedAt        int64
	ExpiresAt        int64
	SessionStartedAt int64
	SessionExpiresAt int64
	UsedAt           int64
}

func (inv *invitation) linkExpired(now time.Time) bool {
	return inv.ExpiresAt > 0 && now.Unix() > inv.ExpiresAt
}

func (inv *invitation) sessionStarted() bool {
	return inv.SessionStartedAt > 0
}

func (inv *invitation) sessionExpired(now time.Time) bool {
	return inv.SessionExpiresAt > 0 && now.Unix() > inv.SessionExpiresAt
}

// timeRemaining computes both countdowns. Before the first open, the
// session timer reports the full window it would start with.
func (inv *invitation) timeRemaining(now time.Time, sessionWindow time.Duration) TimeRemaining {
	link := time.Unix(inv.ExpiresAt, 0).Sub(now)
	if link < 0 {
		link = 0
	}

	session := sessionWindow
	if inv.sessionStarted() {
		session = time.Unix(inv.SessionExpiresAt, 0).Sub(now)
		if session < 0 {
			session = 0
		}
	}

	return TimeRemaining{
		Link:       link,
		Session:    session,
		LinkHMS:    formatHMS(link),
		SessionHMS: formatHMS(session),
	}
}

func (inv *invitation) record() InvitationRecord {
	return InvitationRecord{
		Code:          inv.Code,
		PIN:           inv.PIN,
		URLToken:      inv.URLToken,
		CreatedBy:     inv.CreatedBy,
		IntendedEmail: inv.IntendedEmail,
		IntendedName:  inv.IntendedName,
		Notes:         inv.Notes,
		CreatedAt:     time.Unix(inv.CreatedAt, 0).UTC(),
		ExpiresAt:     time.Unix(inv.ExpiresAt, 0).UTC(),
	}
}

// formatHMS renders a countdown as HH:MM:SS, clamped at zero. Hours can
// exceed two digits for long link windows.
func formatHMS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
