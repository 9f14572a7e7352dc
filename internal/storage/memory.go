// Package storage provides durable-store implementations of the narrow
// capability interfaces declared by the reputation, ratelimit, and anomaly
// packages.
//
// Stores are best-effort mirrors: the owning components treat their
// in-memory state as authoritative and only log store failures. Pruning and
// eviction policy lives in the components; stores append and read.
package storage

import (
	"context"
	"sync"

	"github.com/gdnshnk/pohw-registry-node-sub003/internal/ratelimit"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/reputation"
)

// Memory is a process-local store. It backs unit tests and standalone nodes
// that accept losing gatekeeper state on restart.
type Memory struct {
	mu          sync.Mutex
	reputations map[string]reputation.Record
	submissions map[string][]ratelimit.SubmissionRecord
	anomalies   map[string][]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		reputations: make(map[string]reputation.Record),
		submissions: make(map[string][]ratelimit.SubmissionRecord),
		anomalies:   make(map[string][]string),
	}
}

// Reputation returns the stored record, or (nil, nil) when absent.
func (m *Memory) Reputation(ctx context.Context, identity string) (*reputation.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.reputations[identity]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

// SaveReputation upserts the full record.
func (m *Memory) SaveReputation(ctx context.Context, rec *reputation.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reputations[rec.Identity] = *rec
	return nil
}

// Submissions returns the identity's stored submission records.
func (m *Memory) Submissions(ctx context.Context, identity string) ([]ratelimit.SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ratelimit.SubmissionRecord, len(m.submissions[identity]))
	copy(out, m.submissions[identity])
	return out, nil
}

// AppendSubmission appends one record.
func (m *Memory) AppendSubmission(ctx context.Context, rec ratelimit.SubmissionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[rec.Identity] = append(m.submissions[rec.Identity], rec)
	return nil
}

// AnomalyEntries returns the identity's stored anomaly entries.
func (m *Memory) AnomalyEntries(ctx context.Context, identity string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.anomalies[identity]))
	copy(out, m.anomalies[identity])
	return out, nil
}

// AppendAnomaly appends one entry.
func (m *Memory) AppendAnomaly(ctx context.Context, identity, entry string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomalies[identity] = append(m.anomalies[identity], entry)
	return nil
}
