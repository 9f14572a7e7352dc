// Package reputation maintains a bounded, exponentially-decaying trust score
// per identity, with a coarse tier derived from the score.
package reputation

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gdnshnk/pohw-registry-node-sub003/internal/anomaly"
)

// Tier is the coarse trust label consumed by downstream gating policy.
type Tier string

const (
	TierGreen  Tier = "green"
	TierBlue   Tier = "blue"
	TierPurple Tier = "purple"
	TierGrey   Tier = "grey"
)

// Event identifies a reputation-moving occurrence.
type Event string

const (
	EventProofSuccess      Event = "proof_success"
	EventRevocation        Event = "revocation"
	EventFailedAttestation Event = "failed_attestation"
	EventAnomaly           Event = "anomaly"
)

// Provenance says which branch produced a Get result: a fresh neutral record
// or an existing record that was decayed on read.
type Provenance string

const (
	ProvenanceInitialized Provenance = "initialized"
	ProvenanceDecayed     Provenance = "decayed"
)

// Record is the full reputation state for one identity.
type Record struct {
	Identity               string    `json:"identity"`
	Score                  float64   `json:"score"`
	LastUpdated            time.Time `json:"last_updated"`
	SuccessCount           int       `json:"success_count"`
	RevocationCount        int       `json:"revocation_count"`
	FailedAttestationCount int       `json:"failed_attestation_count"`
	AnomalyCount           int       `json:"anomaly_count"`
	Tier                   Tier      `json:"tier"`
	TrustLevel             float64   `json:"trust_level"`
}

// Params are the tunable reputation constants.
type Params struct {
	InitialScore           float64 `yaml:"initial_score"`
	MinScore               float64 `yaml:"min_score"`
	MaxScore               float64 `yaml:"max_score"`
	DailyDecayRate         float64 `yaml:"daily_decay_rate"`
	SuccessDelta           float64 `yaml:"success_delta"`
	RevocationDelta        float64 `yaml:"revocation_delta"`
	FailedAttestationDelta float64 `yaml:"failed_attestation_delta"`
	AnomalyDelta           float64 `yaml:"anomaly_delta"`
}

// DefaultParams returns the stock reputation tuning.
func DefaultParams() Params {
	return Params{
		InitialScore:           50,
		MinScore:               0,
		MaxScore:               100,
		DailyDecayRate:         0.01,
		SuccessDelta:           1,
		RevocationDelta:        -10,
		FailedAttestationDelta: -5,
		AnomalyDelta:           -15,
	}
}

// Store is the durable collaborator for reputation records. A missing record
// is reported as (nil, nil).
type Store interface {
	Reputation(ctx context.Context, identity string) (*Record, error)
	SaveReputation(ctx context.Context, rec *Record) error
}

// Ledger holds the authoritative in-memory reputation map with a best-effort
// durable mirror. Callers that need the full read-modify-write sequence
// serialized per identity hold the pipeline's identity lock; the ledger's own
// mutex only guards map access.
type Ledger struct {
	mu        sync.Mutex
	params    Params
	store     Store
	anomalies *anomaly.Log
	records   map[string]*Record
	hydrated  map[string]bool
	now       func() time.Time
}

// NewLedger creates a reputation ledger. store may be nil for a purely
// in-memory node; anomalies receives one entry per EventAnomaly.
func NewLedger(params Params, store Store, anomalies *anomaly.Log) *Ledger {
	if params.MaxScore == 0 {
		params = DefaultParams()
	}
	return &Ledger{
		params:    params,
		store:     store,
		anomalies: anomalies,
		records:   make(map[string]*Record),
		hydrated:  make(map[string]bool),
		now:       time.Now,
	}
}

// Get returns the identity's current record. An existing record is decayed
// to now before being returned; a never-seen identity yields a fresh neutral
// record. The provenance tells the caller which branch ran.
func (l *Ledger) Get(ctx context.Context, identity string) (Record, Provenance) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, existed := l.getOrInitLocked(ctx, identity)
	if !existed {
		return *rec, ProvenanceInitialized
	}
	l.decayLocked(rec)
	return *rec, ProvenanceDecayed
}

// Apply runs the decay-then-adjust protocol for one event and returns the
// resulting record. EventAnomaly additionally writes one anomaly-log entry
// carrying detail. The updated record is persisted best-effort; a store
// failure never rolls back the in-memory update.
func (l *Ledger) Apply(ctx context.Context, identity string, event Event, detail string) Record {
	l.mu.Lock()
	rec, _ := l.getOrInitLocked(ctx, identity)
	l.decayLocked(rec)

	switch event {
	case EventProofSuccess:
		rec.Score += l.params.SuccessDelta
		rec.SuccessCount++
	case EventRevocation:
		rec.Score += l.params.RevocationDelta
		rec.RevocationCount++
	case EventFailedAttestation:
		rec.Score += l.params.FailedAttestationDelta
		rec.FailedAttestationCount++
	case EventAnomaly:
		rec.Score += l.params.AnomalyDelta
		rec.AnomalyCount++
	}
	rec.Score = clamp(rec.Score, l.params.MinScore, l.params.MaxScore)
	rec.Tier = tierFor(rec.Score)
	rec.TrustLevel = rec.Score / l.params.MaxScore
	rec.LastUpdated = l.now()
	snapshot := *rec
	l.mu.Unlock()

	if event == EventAnomaly && l.anomalies != nil {
		if detail == "" {
			detail = "reputation anomaly event"
		}
		l.anomalies.Record(ctx, identity, detail)
	}
	l.persist(ctx, &snapshot)
	return snapshot
}

// ProofSuccess applies the proof_success event. Satisfies the rate
// limiter's ReputationReporter.
func (l *Ledger) ProofSuccess(ctx context.Context, identity string) {
	l.Apply(ctx, identity, EventProofSuccess, "")
}

// getOrInitLocked hydrates or lazily creates the identity's record.
// The boolean is false only for a freshly initialized record.
func (l *Ledger) getOrInitLocked(ctx context.Context, identity string) (*Record, bool) {
	if rec, ok := l.records[identity]; ok {
		return rec, true
	}

	if l.store != nil && !l.hydrated[identity] {
		l.hydrated[identity] = true
		persisted, err := l.store.Reputation(ctx, identity)
		if err != nil {
			slog.Warn("reputation store read failed, initializing neutral record",
				"identity", identity, "error", err)
		} else if persisted != nil {
			rec := *persisted
			l.records[identity] = &rec
			return &rec, true
		}
	}
	l.hydrated[identity] = true

	rec := &Record{
		Identity:    identity,
		Score:       l.params.InitialScore,
		LastUpdated: l.now(),
		Tier:        TierGrey,
		TrustLevel:  l.params.InitialScore / l.params.MaxScore,
	}
	l.records[identity] = rec
	return rec, false
}

// decayLocked applies exponential decay since LastUpdated and stamps the
// record to now. Decay composes: decaying across A then B equals decaying
// once across A+B, so the stamp is safe to move on every read.
func (l *Ledger) decayLocked(rec *Record) {
	now := l.now()
	days := now.Sub(rec.LastUpdated).Hours() / 24
	if days > 0 {
		rec.Score *= math.Pow(1-l.params.DailyDecayRate, days)
		if rec.Score < l.params.MinScore {
			rec.Score = l.params.MinScore
		}
		rec.Tier = tierFor(rec.Score)
		rec.TrustLevel = rec.Score / l.params.MaxScore
	}
	rec.LastUpdated = now
}

func (l *Ledger) persist(ctx context.Context, rec *Record) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveReputation(ctx, rec); err != nil {
		slog.Warn("reputation store write failed, in-memory record remains authoritative",
			"identity", rec.Identity, "error", err)
	}
}

// tierFor maps a score onto its tier. Boundaries are inclusive on the
// upper band: 80.0 is green, 60.0 is blue, 40.0 is purple.
func tierFor(score float64) Tier {
	switch {
	case score >= 80:
		return TierGreen
	case score >= 60:
		return TierBlue
	case score >= 40:
		return TierPurple
	default:
		return TierGrey
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
