// Package ratelimit tracks recent submissions per identity and decides
// whether an incoming authorship proof is arriving at a human-plausible
// cadence.
//
// Two rejection modes exist and they are deliberately different in kind:
// a floor violation (submitted too soon after the previous one) is plain
// throttling and leaves no audit trace, while a severe per-minute overrun
// is treated as an automation signature: rejected and durably logged.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gdnshnk/pohw-registry-node-sub003/internal/anomaly"
)

const (
	// ReasonFloorViolation marks a submission that arrived before the
	// minimum inter-submission interval elapsed.
	ReasonFloorViolation = "submission interval below minimum floor"

	// ReasonRateAnomaly marks a per-minute rate so far above the ceiling
	// that it reads as automation, not burstiness.
	ReasonRateAnomaly = "submission rate exceeds automation threshold"

	retention = 24 * time.Hour
)

// Config holds the rate-limit thresholds.
type Config struct {
	MaxPerMinute      int     `yaml:"max_per_minute"`
	MaxPerHour        int     `yaml:"max_per_hour"`
	MinIntervalMs     int64   `yaml:"min_interval_ms"`
	AnomalyMultiplier float64 `yaml:"anomaly_multiplier"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MaxPerMinute:      10,
		MaxPerHour:        100,
		MinIntervalMs:     6000,
		AnomalyMultiplier: 5,
	}
}

// SubmissionRecord is one accepted submission. Immutable once created;
// pruned from history after 24 hours.
type SubmissionRecord struct {
	Identity           string    `json:"identity"`
	Timestamp          time.Time `json:"timestamp"`
	ContentHash        string    `json:"content_hash"`
	RateLimitWarning   bool      `json:"rate_limit_warning,omitempty"`
	EntropyDiscrepancy bool      `json:"entropy_discrepancy,omitempty"`
}

// Result is the structured rate-limit verdict. Absent warnings and a false
// entropy flag are omitted on the wire; callers must treat absence as
// "no warning", not as an error.
type Result struct {
	Allowed            bool     `json:"allowed"`
	Reason             string   `json:"reason,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
	CurrentRate        float64  `json:"current_rate"`
	EntropyDiscrepancy bool     `json:"entropy_discrepancy,omitempty"`
}

// Store is the durable collaborator for submission history. The tracker
// handles pruning; the store only appends and reads.
type Store interface {
	Submissions(ctx context.Context, identity string) ([]SubmissionRecord, error)
	AppendSubmission(ctx context.Context, rec SubmissionRecord) error
}

// ReputationReporter receives the proof_success event for every recorded
// submission. *reputation.Ledger satisfies it.
type ReputationReporter interface {
	ProofSuccess(ctx context.Context, identity string)
}

// Tracker is the submission history and rate limiter. In-memory history is
// authoritative; the store is a best-effort mirror.
type Tracker struct {
	mu         sync.Mutex
	cfg        Config
	store      Store
	anomalies  *anomaly.Log
	reputation ReputationReporter
	history    map[string][]SubmissionRecord
	hydrated   map[string]bool
}

// NewTracker creates a tracker. store, anomalies, and reputation may each be
// nil; zero-valued config fields fall back to the defaults.
func NewTracker(cfg Config, store Store, anomalies *anomaly.Log, rep ReputationReporter) *Tracker {
	def := DefaultConfig()
	if cfg.MaxPerMinute == 0 {
		cfg.MaxPerMinute = def.MaxPerMinute
	}
	if cfg.MaxPerHour == 0 {
		cfg.MaxPerHour = def.MaxPerHour
	}
	if cfg.MinIntervalMs == 0 {
		cfg.MinIntervalMs = def.MinIntervalMs
	}
	if cfg.AnomalyMultiplier == 0 {
		cfg.AnomalyMultiplier = def.AnomalyMultiplier
	}
	return &Tracker{
		cfg:        cfg,
		store:      store,
		anomalies:  anomalies,
		reputation: rep,
		history:    make(map[string][]SubmissionRecord),
		hydrated:   make(map[string]bool),
	}
}

// Check evaluates the identity's submission cadence at ts. The candidate
// submission itself counts toward the per-minute and per-hour totals. Check
// never mutates history; callers must invoke Record only when the result
// allows the submission to proceed.
func (t *Tracker) Check(ctx context.Context, identity string, ts time.Time) Result {
	t.mu.Lock()
	t.hydrateLocked(ctx, identity)
	entries := t.history[identity]
	t.mu.Unlock()

	// First-ever submission: nothing to violate.
	if len(entries) == 0 {
		return Result{Allowed: true, CurrentRate: 1}
	}

	// Hard floor against the newest prior submission. Timestamps are
	// caller-supplied and not guaranteed monotonic, so the gap is measured
	// as an absolute difference, so a backdated timestamp cannot slip under
	// the floor by landing before the newest record.
	newest := entries[0].Timestamp
	for _, e := range entries[1:] {
		if e.Timestamp.After(newest) {
			newest = e.Timestamp
		}
	}
	gap := ts.Sub(newest)
	if gap < 0 {
		gap = -gap
	}
	if gap < time.Duration(t.cfg.MinIntervalMs)*time.Millisecond {
		return Result{
			Allowed:     false,
			Reason:      ReasonFloorViolation,
			CurrentRate: float64(t.countWithin(entries, ts, time.Minute) + 1),
		}
	}

	perMinute := t.countWithin(entries, ts, time.Minute) + 1
	perHour := t.countWithin(entries, ts, time.Hour) + 1

	res := Result{Allowed: true, CurrentRate: float64(perMinute)}

	if perMinute > t.cfg.MaxPerMinute {
		rate := float64(perMinute) / float64(t.cfg.MaxPerMinute)
		if rate >= t.cfg.AnomalyMultiplier {
			res.Allowed = false
			res.Reason = ReasonRateAnomaly
			res.EntropyDiscrepancy = true
			if t.anomalies != nil {
				t.anomalies.Record(ctx, identity, fmt.Sprintf(
					"rate anomaly: %d submissions in the last minute (ceiling %d, %.1fx)",
					perMinute, t.cfg.MaxPerMinute, rate))
			}
			return res
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"per-minute submission ceiling exceeded: %d > %d", perMinute, t.cfg.MaxPerMinute))
		res.EntropyDiscrepancy = true
	}

	if perHour > t.cfg.MaxPerHour {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"per-hour submission ceiling exceeded: %d > %d", perHour, t.cfg.MaxPerHour))
	}
	return res
}

// Record appends a submission with flags derived from the rate-limit result,
// prunes history past the 24h retention window, mirrors the new record to
// the store, and reports proof_success unless the result explicitly rejected
// the submission.
func (t *Tracker) Record(ctx context.Context, identity, contentHash string, ts time.Time, res *Result) SubmissionRecord {
	rec := SubmissionRecord{
		Identity:    identity,
		Timestamp:   ts,
		ContentHash: contentHash,
	}
	if res != nil {
		rec.RateLimitWarning = len(res.Warnings) > 0
		rec.EntropyDiscrepancy = res.EntropyDiscrepancy
	}

	t.mu.Lock()
	t.hydrateLocked(ctx, identity)
	kept := t.history[identity][:0]
	for _, e := range t.history[identity] {
		if ts.Sub(e.Timestamp) <= retention {
			kept = append(kept, e)
		}
	}
	t.history[identity] = append(kept, rec)
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.AppendSubmission(ctx, rec); err != nil {
			slog.Warn("submission store append failed, in-memory history remains authoritative",
				"identity", identity, "error", err)
		}
	}
	if t.reputation != nil && (res == nil || res.Allowed) {
		t.reputation.ProofSuccess(ctx, identity)
	}
	return rec
}

// History returns the identity's retained submission records, oldest first.
func (t *Tracker) History(ctx context.Context, identity string) []SubmissionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hydrateLocked(ctx, identity)

	out := make([]SubmissionRecord, len(t.history[identity]))
	copy(out, t.history[identity])
	return out
}

// countWithin counts prior entries no older than window relative to ts.
func (t *Tracker) countWithin(entries []SubmissionRecord, ts time.Time, window time.Duration) int {
	n := 0
	for _, e := range entries {
		age := ts.Sub(e.Timestamp)
		if age < 0 {
			age = -age
		}
		if age <= window {
			n++
		}
	}
	return n
}

// hydrateLocked loads persisted history once per identity, dropping records
// past retention. Must be called with t.mu held.
func (t *Tracker) hydrateLocked(ctx context.Context, identity string) {
	if t.hydrated[identity] {
		return
	}
	t.hydrated[identity] = true
	if t.store == nil {
		return
	}

	persisted, err := t.store.Submissions(ctx, identity)
	if err != nil {
		slog.Warn("submission store read failed, starting with empty history",
			"identity", identity, "error", err)
		return
	}
	now := time.Now()
	kept := make([]SubmissionRecord, 0, len(persisted))
	for _, e := range persisted {
		if now.Sub(e.Timestamp) <= retention {
			kept = append(kept, e)
		}
	}
	t.history[identity] = kept
}
