package scheduler

import (
	"sync"
	"time"
)

// Eligible reports whether a location last fetched at last may be fetched
// again at now under window. A location never fetched is always eligible.
func Eligible(last *time.Time, now time.Time, window time.Duration) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) >= window
}

type ledgerEntry struct {
	fetching bool
	last     *time.Time
}

// Ledger owns the per-location fetch state for one process. Claim performs
// the eligibility check and the transition to fetching under one lock, so
// two overlapping ticks cannot both start the same location.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*ledgerEntry)}
}

// Claim moves id from idle to fetching when it is eligible. persisted is
// the last fetch time known to the location registry; the later of it and
// the ledger's own record is used.
func (l *Ledger) Claim(id string, persisted *time.Time, now time.Time, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		e = &ledgerEntry{}
		l.entries[id] = e
	}
	if e.fetching {
		return false
	}
	if persisted != nil && (e.last == nil || persisted.After(*e.last)) {
		p := *persisted
		e.last = &p
	}
	if !Eligible(e.last, now, window) {
		return false
	}
	e.fetching = true
	return true
}

// Release moves id back to idle with at as its last fetch time.
func (l *Ledger) Release(id string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		e = &ledgerEntry{}
		l.entries[id] = e
	}
	e.fetching = false
	e.last = &at
}

// Fetching reports whether id is currently claimed.
func (l *Ledger) Fetching(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	return ok && e.fetching
}
