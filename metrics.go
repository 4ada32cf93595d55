package qrlink

import (
	"sync/atomic"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricQRIssued counts successfully issued QR sessions.
	MetricQRIssued MetricID = iota
	// MetricQRIssueFailure counts rejected or failed issuance attempts.
	MetricQRIssueFailure
	// MetricQRScanned counts successful scans.
	MetricQRScanned
	// MetricQRScanFailure counts rejected scans, including expired sessions
	// and pattern validation failures.
	MetricQRScanFailure
	// MetricQRExpired counts sessions observed expired at scan time.
	MetricQRExpired
	// MetricPinVerified counts completed handshakes.
	MetricPinVerified
	// MetricPinFailure counts failed PIN comparisons.
	MetricPinFailure
	// MetricPinLockout counts lockouts triggered by exhausted attempts.
	MetricPinLockout
	// MetricCredentialIssued counts downstream session credentials minted.
	MetricCredentialIssued
	// MetricInvitationCreated counts issued invitation credentials.
	MetricInvitationCreated
	// MetricInvitationVerified counts successful invitation verifications.
	MetricInvitationVerified
	// MetricInvitationRejected counts failed invitation verifications.
	MetricInvitationRejected
	// MetricInvitationLinkOpened counts first-time link opens that started
	// the session window.
	MetricInvitationLinkOpened
	// MetricInvitationUsed counts terminally consumed invitations.
	MetricInvitationUsed
	// MetricRateLimitHit counts requests rejected by any limiter class.
	MetricRateLimitHit
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the engine's in-process counters. All methods are safe for
// concurrent use and are no-ops on a nil or disabled receiver.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters: map[MetricID]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricIDCount)),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	return s
}
