// Package pipeline wires the rate gate, reputation ledger, and effort
// verifier into the submission flow, and serializes all per-identity state
// transitions.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/gdnshnk/pohw-registry-node-sub003/internal/anomaly"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/effort"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/monitoring"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/ratelimit"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/reputation"
)

// Gatekeeper is the submission pipeline front door. The rate-limit check,
// submission recording, and reputation update for one identity form a
// read-modify-write sequence that must not interleave; Submit holds the
// identity's lock across the whole sequence while different identities
// proceed in parallel.
type Gatekeeper struct {
	tracker   *ratelimit.Tracker
	ledger    *reputation.Ledger
	anomalies *anomaly.Log
	generator *effort.Generator
	verifier  *effort.Verifier
	metrics   *monitoring.Metrics

	locks identityLocks
	now   func() time.Time
}

// New creates a gatekeeper. metrics may be nil.
func New(
	tracker *ratelimit.Tracker,
	ledger *reputation.Ledger,
	anomalies *anomaly.Log,
	generator *effort.Generator,
	verifier *effort.Verifier,
	metrics *monitoring.Metrics,
) *Gatekeeper {
	return &Gatekeeper{
		tracker:   tracker,
		ledger:    ledger,
		anomalies: anomalies,
		generator: generator,
		verifier:  verifier,
		metrics:   metrics,
		now:       time.Now,
	}
}

// SubmissionRequest is one incoming authorship-proof submission.
type SubmissionRequest struct {
	Identity    string    `json:"identity"`
	ContentHash string    `json:"content_hash"`
	Timestamp   time.Time `json:"timestamp"`
}

// SubmissionOutcome reports what the gate decided. Record is nil when the
// submission was rejected and never entered the registry.
type SubmissionOutcome struct {
	RateLimit  ratelimit.Result            `json:"rate_limit"`
	Record     *ratelimit.SubmissionRecord `json:"record,omitempty"`
	Reputation reputation.Record           `json:"reputation"`
}

// Submit runs the rate gate for one submission and, when allowed, records it
// and applies the proof_success reputation event. A rejection prevents the
// proof from entering the registry.
func (g *Gatekeeper) Submit(ctx context.Context, req SubmissionRequest) SubmissionOutcome {
	ts := req.Timestamp
	if ts.IsZero() {
		ts = g.now()
	}

	unlock := g.locks.lock(req.Identity)
	defer unlock()

	res := g.tracker.Check(ctx, req.Identity, ts)
	if !res.Allowed {
		g.countSubmission(res)
		rep, _ := g.ledger.Get(ctx, req.Identity)
		return SubmissionOutcome{RateLimit: res, Reputation: rep}
	}

	rec := g.tracker.Record(ctx, req.Identity, req.ContentHash, ts, &res)
	g.countSubmission(res)
	rep, _ := g.ledger.Get(ctx, req.Identity)
	g.gaugeReputation(rep)
	return SubmissionOutcome{RateLimit: res, Record: &rec, Reputation: rep}
}

// AcceptanceResult is the verdict on a process digest presented for
// downstream batching, plus the compound hash binding artifact and process
// when the digest verified.
type AcceptanceResult struct {
	Verification effort.VerifyResult `json:"verification"`
	CompoundHash string              `json:"compound_hash,omitempty"`
}

// Accept checks a process digest before the proof may proceed to batching,
// preferring the zero-knowledge path. On success it returns the compound
// provenance hash for the artifact/process pair.
func (g *Gatekeeper) Accept(ctx context.Context, contentHash string, d *effort.Digest) (AcceptanceResult, error) {
	vr := g.verifier.VerifyWithZK(ctx, d, g.generator.Thresholds())
	g.countVerification(vr)
	if !vr.Valid {
		return AcceptanceResult{Verification: vr}, nil
	}

	compound, err := effort.CompoundHash(contentHash, d.DigestHash)
	if err != nil {
		return AcceptanceResult{Verification: vr}, err
	}
	return AcceptanceResult{Verification: vr, CompoundHash: compound}, nil
}

// Digest generates a process digest for the session, observing the effort
// metrics instruments.
func (g *Gatekeeper) Digest(ctx context.Context, s *effort.Session) (*effort.Digest, error) {
	start := g.now()
	d, err := g.generator.Generate(ctx, s)
	if err != nil {
		return nil, err
	}
	if g.metrics != nil {
		g.metrics.DigestDuration.Observe(g.now().Sub(start).Seconds())
		g.metrics.SessionEntropy.Observe(d.Metrics.Entropy)
		g.metrics.SessionCoherence.Observe(d.Metrics.TemporalCoherence)
		if d.MeetsThresholds && d.ProofOutcome.Status == effort.ProofSkipped {
			g.metrics.ProverDegradations.Inc()
		}
	}
	return d, nil
}

// ReportEvent applies a reputation event on behalf of downstream credential
// or attestation logic, serialized with the identity's other transitions.
func (g *Gatekeeper) ReportEvent(ctx context.Context, identity string, event reputation.Event, detail string) reputation.Record {
	unlock := g.locks.lock(identity)
	defer unlock()

	rep := g.ledger.Apply(ctx, identity, event, detail)
	if g.metrics != nil {
		g.metrics.ReputationEvents.WithLabelValues(string(event)).Inc()
		if event == reputation.EventAnomaly {
			g.metrics.AnomaliesLogged.Inc()
		}
	}
	g.gaugeReputation(rep)
	return rep
}

// Reputation returns the identity's current (decayed) reputation snapshot.
func (g *Gatekeeper) Reputation(ctx context.Context, identity string) (reputation.Record, reputation.Provenance) {
	unlock := g.locks.lock(identity)
	defer unlock()
	return g.ledger.Get(ctx, identity)
}

// Anomalies returns the identity's audit trail, oldest first.
func (g *Gatekeeper) Anomalies(ctx context.Context, identity string) []string {
	return g.anomalies.Entries(ctx, identity)
}

// HasRecentAnomalies reports whether the identity logged any anomaly inside
// the trailing window.
func (g *Gatekeeper) HasRecentAnomalies(ctx context.Context, identity string, window time.Duration) bool {
	return g.anomalies.HasRecent(ctx, identity, window)
}

func (g *Gatekeeper) countSubmission(res ratelimit.Result) {
	if g.metrics == nil {
		return
	}
	switch {
	case res.Allowed:
		g.metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	case res.Reason == ratelimit.ReasonRateAnomaly:
		g.metrics.SubmissionsTotal.WithLabelValues("anomaly_rejected").Inc()
		g.metrics.AnomaliesLogged.Inc()
	default:
		g.metrics.SubmissionsTotal.WithLabelValues("floor_rejected").Inc()
	}
	if len(res.Warnings) > 0 {
		g.metrics.RateLimitWarnings.Inc()
	}
}

func (g *Gatekeeper) countVerification(vr effort.VerifyResult) {
	if g.metrics == nil {
		return
	}
	result := "invalid"
	if vr.Valid {
		result = "valid"
	}
	g.metrics.Verifications.WithLabelValues(string(vr.Method), result).Inc()
}

func (g *Gatekeeper) gaugeReputation(rep reputation.Record) {
	if g.metrics != nil {
		g.metrics.ReputationScore.WithLabelValues(string(rep.Tier)).Set(rep.Score)
	}
}

// identityLocks hands out one mutex per identity so operations on different
// identities never contend.
type identityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (il *identityLocks) lock(identity string) func() {
	il.mu.Lock()
	if il.locks == nil {
		il.locks = make(map[string]*sync.Mutex)
	}
	m, ok := il.locks[identity]
	if !ok {
		m = &sync.Mutex{}
		il.locks[identity] = m
	}
	il.mu.Unlock()

	m.Lock()
	return m.Unlock
}
