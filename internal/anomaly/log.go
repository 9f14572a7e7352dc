// Package anomaly keeps a bounded, append-only audit trail of suspicious
// behavior per identity.
//
// Entries are plain strings prefixed with an RFC 3339 UTC timestamp. That
// encoding is load-bearing: lexicographic comparison of the prefix equals
// chronological comparison, which is what HasRecent relies on.
package anomaly

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MaxEntries caps the per-identity log; the oldest entry is evicted first.
const MaxEntries = 100

// Store is the durable collaborator for anomaly entries. The log handles
// eviction itself; the store only appends and reads.
type Store interface {
	AnomalyEntries(ctx context.Context, identity string) ([]string, error)
	AppendAnomaly(ctx context.Context, identity, entry string) error
}

// Log is the in-memory authoritative anomaly trail with a best-effort
// durable mirror. A nil store disables persistence entirely.
type Log struct {
	mu       sync.Mutex
	store    Store
	entries  map[string][]string
	hydrated map[string]bool
	notify   func(identity, entry string)
	now      func() time.Time
}

// NewLog creates an anomaly log backed by the given store (may be nil).
func NewLog(store Store) *Log {
	return &Log{
		store:    store,
		entries:  make(map[string][]string),
		hydrated: make(map[string]bool),
		now:      time.Now,
	}
}

// SetNotify registers a callback fired after every recorded entry. Used by
// the live anomaly feed; the callback runs outside the log's lock.
func (l *Log) SetNotify(fn func(identity, entry string)) {
	l.mu.Lock()
	l.notify = fn
	l.mu.Unlock()
}

// Record appends a timestamped entry for the identity, evicting the oldest
// entry once the cap is exceeded. Only the new entry is persisted; a store
// failure is logged and does not fail the call. Returns the encoded entry.
func (l *Log) Record(ctx context.Context, identity, description string) string {
	l.mu.Lock()
	l.hydrateLocked(ctx, identity)

	entry := l.now().UTC().Format(time.RFC3339) + ": " + description
	list := append(l.entries[identity], entry)
	if len(list) > MaxEntries {
		list = list[len(list)-MaxEntries:]
	}
	l.entries[identity] = list
	notify := l.notify
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.AppendAnomaly(ctx, identity, entry); err != nil {
			slog.Warn("anomaly store append failed, in-memory log remains authoritative",
				"identity", identity, "error", err)
		}
	}
	if notify != nil {
		notify(identity, entry)
	}
	return entry
}

// Entries returns the identity's log oldest→newest, hydrating from the
// store on first access.
func (l *Log) Entries(ctx context.Context, identity string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hydrateLocked(ctx, identity)

	out := make([]string, len(l.entries[identity]))
	copy(out, l.entries[identity])
	return out
}

// HasRecent reports whether any entry falls within the trailing window.
// The check compares timestamp prefixes as strings; RFC 3339 UTC preserves
// chronological order under lexicographic comparison.
func (l *Log) HasRecent(ctx context.Context, identity string, window time.Duration) bool {
	cutoff := l.now().Add(-window).UTC().Format(time.RFC3339)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.hydrateLocked(ctx, identity)

	for _, entry := range l.entries[identity] {
		if len(entry) >= len(cutoff) && entry[:len(cutoff)] >= cutoff {
			return true
		}
	}
	return false
}

// hydrateLocked pulls persisted entries into memory once per identity.
// Must be called with l.mu held.
func (l *Log) hydrateLocked(ctx context.Context, identity string) {
	if l.hydrated[identity] || l.store == nil {
		l.hydrated[identity] = true
		return
	}
	l.hydrated[identity] = true

	persisted, err := l.store.AnomalyEntries(ctx, identity)
	if err != nil {
		slog.Warn("anomaly store read failed, starting with empty log",
			"identity", identity, "error", err)
		return
	}
	if len(persisted) > MaxEntries {
		persisted = persisted[len(persisted)-MaxEntries:]
	}
	l.entries[identity] = persisted
}
