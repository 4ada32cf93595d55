// Package rate implements the in-process sliding-window limiter guarding
// engine operations. Each limiter instance owns one operation class; keys
// are caller IPs or identifiers.
package rate

import (
	"sync"
	"time"
)

// Config holds one limiter class's tuning parameters.
type Config struct {
	MaxRequests   int
	Window        time.Duration
	BlockDuration time.Duration
}

type entry struct {
	timestamps   []time.Time
	blockedUntil time.Time
}

// Limiter is a sliding-window rate limiter with a temporary block applied
// once the window budget is exhausted. Safe for concurrent use.
//
// A key whose block has lapsed restarts with a clean window: the request
// that finds the expired block is admitted regardless of older history.
type Limiter struct {
	cfg Config

	// onBlock fires when a key transitions into the blocked state, with
	// the limiter's own mutex released.
	onBlock func(key string)

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a limiter. onBlock may be nil.
func New(cfg Config, onBlock func(key string)) *Limiter {
	return &Limiter{
		cfg:     cfg,
		onBlock: onBlock,
		entries: make(map[string]*entry),
	}
}

// Check admits or rejects one request for key at time now. On rejection it
// returns the remaining block duration and false.
func (l *Limiter) Check(key string, now time.Time) (time.Duration, bool) {
	if l == nil {
		return 0, true
	}

	var blocked bool

	l.mu.Lock()
	e := l.entries[key]
	if e == nil {
		e = &entry{}
		l.entries[key] = e
	}

	if !e.blockedUntil.IsZero() {
		if now.Before(e.blockedUntil) {
			retry := e.blockedUntil.Sub(now)
			l.mu.Unlock()
			return retry, false
		}
		// Block lapsed: fresh start for this key.
		e.blockedUntil = time.Time{}
		e.timestamps = append(e.timestamps[:0], now)
		l.mu.Unlock()
		return 0, true
	}

	cutoff := now.Add(-l.cfg.Window)
	kept := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.timestamps = kept

	if len(e.timestamps) >= l.cfg.MaxRequests {
		e.blockedUntil = now.Add(l.cfg.BlockDuration)
		e.timestamps = e.timestamps[:0]
		blocked = true
	} else {
		e.timestamps = append(e.timestamps, now)
	}
	l.mu.Unlock()

	if blocked {
		if l.onBlock != nil {
			l.onBlock(key)
		}
		return l.cfg.BlockDuration, false
	}
	return 0, true
}

// Reset clears all state for key.
func (l *Limiter) Reset(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}

// Prune drops keys with no live window entries and no active block. Callers
// run it periodically to bound memory on long-lived processes.
func (l *Limiter) Prune(now time.Time) {
	if l == nil {
		return
	}
	cutoff := now.Add(-l.cfg.Window)

	l.mu.Lock()
	for key, e := range l.entries {
		if !e.blockedUntil.IsZero() {
			if now.Before(e.blockedUntil) {
				continue
			}
			e.blockedUntil = time.Time{}
		}
		live := false
		for _, ts := range e.timestamps {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.entries, key)
		}
	}
	l.mu.Unlock()
}
