package resolver

import (
	"sync"
	"time"

	"github.com/lslnet/streamnet/streaminfo"
)

// Result is one live entry in an attempt's result map: a stream's
// advertised info, the wallclock time its reply was last seen, and the
// source addresses observed per family (first-arrival wins, never
// overwritten).
type Result struct {
	Info     *streaminfo.Info
	LastSeen time.Time
	AddrV4   string
	AddrV6   string
}

// resultMap is the per-attempt mapping UID -> (StreamInfo, last_seen).
// Invariants: at most one entry per UID; last_seen only ever moves forward;
// the first address-family-qualified address observed for a UID wins.
type resultMap struct {
	mu      sync.Mutex
	entries map[string]*Result
}

func newResultMap() *resultMap {
	return &resultMap{entries: make(map[string]*Result)}
}

// observe records a reply for uid, inserting a new entry if absent or
// updating only LastSeen (and, if empty, the family's address) otherwise.
func (m *resultMap) observe(uid string, info *streaminfo.Info, srcAddr string, family Family, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.entries[uid]
	if !ok {
		r = &Result{Info: info}
		m.entries[uid] = r
	}
	r.LastSeen = now
	switch family {
	case FamilyV4:
		if r.AddrV4 == "" {
			r.AddrV4 = srcAddr
		}
	case FamilyV6:
		if r.AddrV6 == "" {
			r.AddrV6 = srcAddr
		}
	}
}

// len returns the number of distinct UIDs currently held.
func (m *resultMap) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// snapshot returns a copy of every entry, without pruning.
func (m *resultMap) snapshot() map[string]Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Result, len(m.entries))
	for uid, r := range m.entries {
		out[uid] = *r
	}
	return out
}

// snapshotPruning returns a copy of every entry whose LastSeen is within
// forgetAfter of now, deleting stale entries from the underlying map in the
// same pass (continuous-mode pruning).
func (m *resultMap) snapshotPruning(forgetAfter time.Duration, now time.Time) map[string]Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Result, len(m.entries))
	for uid, r := range m.entries {
		if forgetAfter > 0 && now.Sub(r.LastSeen) > forgetAfter {
			delete(m.entries, uid)
			continue
		}
		out[uid] = *r
	}
	return out
}
