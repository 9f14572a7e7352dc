package effort

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/blake2b"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/gdnshnk/pohw-registry-node-sub003/pb"
)

// Prover is the external zero-knowledge collaborator. Both calls are
// fallible and may be slow; the generator always invokes them under a
// deadline.
type Prover interface {
	Generate(ctx context.Context, m *pb.EffortMetrics, th *pb.EffortThresholds) (*pb.ThresholdProof, error)
	Verify(ctx context.Context, proof *pb.ThresholdProof, th *pb.EffortThresholds) (bool, error)
}

// ProofStatus distinguishes a digest that carries a ZK proof from one that
// degraded to commitment-only.
type ProofStatus string

const (
	ProofAttached ProofStatus = "attached"
	ProofSkipped  ProofStatus = "skipped"
)

// ProofOutcome reports what happened on the proof path, so callers can tell
// "proof attached" from "proof skipped" without reading logs.
type ProofOutcome struct {
	Status ProofStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// Digest is the immutable commitment to a session's behavioral statistics.
type Digest struct {
	DigestHash      string             `json:"digest_hash"`
	Metrics         Metrics            `json:"metrics"`
	Commitment      string             `json:"commitment"`
	ZKProof         *pb.ThresholdProof `json:"zk_proof,omitempty"`
	ZKProofResult   *bool              `json:"zk_proof_result,omitempty"`
	MeetsThresholds bool               `json:"meets_thresholds"`
	ProofOutcome    ProofOutcome       `json:"proof_outcome"`
}

// DefaultProofTimeout bounds the prover call during digest generation.
const DefaultProofTimeout = 10 * time.Second

// Generator produces digests for sessions. A nil prover is valid and means
// every digest degrades to commitment-only.
type Generator struct {
	thresholds   Thresholds
	prover       Prover
	proofTimeout time.Duration
}

// NewGenerator creates a digest generator.
func NewGenerator(th Thresholds, prover Prover, proofTimeout time.Duration) *Generator {
	if proofTimeout <= 0 {
		proofTimeout = DefaultProofTimeout
	}
	return &Generator{thresholds: th, prover: prover, proofTimeout: proofTimeout}
}

// Thresholds returns the generator's configured effort floors.
func (g *Generator) Thresholds() Thresholds {
	return g.thresholds
}

// Generate snapshots the session and builds its digest. The digest hash
// binds only rounded metrics; the commitment binds only the five threshold
// verdicts plus a nonce. A proof is requested only when all thresholds held,
// and any prover failure downgrades the digest rather than failing the call.
func (g *Generator) Generate(ctx context.Context, s *Session) (*Digest, error) {
	m := s.Metrics()
	return g.GenerateFromMetrics(ctx, m)
}

// GenerateFromMetrics builds a digest for an already-taken snapshot.
func (g *Generator) GenerateFromMetrics(ctx context.Context, m Metrics) (*Digest, error) {
	hash, err := DigestHash(m)
	if err != nil {
		return nil, fmt.Errorf("digest hash: %w", err)
	}

	report := Evaluate(m, g.thresholds)
	commitment, err := thresholdCommitment(report)
	if err != nil {
		return nil, fmt.Errorf("threshold commitment: %w", err)
	}

	d := &Digest{
		DigestHash:      hash,
		Metrics:         m,
		Commitment:      commitment,
		MeetsThresholds: report.All(),
		ProofOutcome:    ProofOutcome{Status: ProofSkipped, Reason: "thresholds not met"},
	}
	if !report.All() {
		return d, nil
	}

	if g.prover == nil {
		d.ProofOutcome = ProofOutcome{Status: ProofSkipped, Reason: "no prover configured"}
		return d, nil
	}

	proofCtx, cancel := context.WithTimeout(ctx, g.proofTimeout)
	defer cancel()
	proof, err := g.prover.Generate(proofCtx, MetricsToPB(m), ThresholdsToPB(g.thresholds))
	if err != nil {
		slog.Warn("prover unavailable, digest degrades to commitment-only", "error", err)
		d.ProofOutcome = ProofOutcome{Status: ProofSkipped, Reason: "prover unavailable: " + err.Error()}
		return d, nil
	}

	verified := true
	d.ZKProof = proof
	d.ZKProofResult = &verified
	d.ProofOutcome = ProofOutcome{Status: ProofAttached}
	return d, nil
}

// DigestHash canonicalizes the rounded metrics and hashes them. Entropy and
// coherence are rounded to three decimals, variance and average interval to
// the nearest millisecond; counts and interval extremes enter raw. The hash
// reveals nothing about individual event timestamps, and the rounding is the
// only coarsening on this path.
func DigestHash(m Metrics) (string, error) {
	record := struct {
		AverageIntervalMs int64   `json:"averageIntervalMs"`
		Entropy           float64 `json:"entropy"`
		InputEventCount   int     `json:"inputEventCount"`
		MaxIntervalMs     int64   `json:"maxIntervalMs"`
		MinIntervalMs     int64   `json:"minIntervalMs"`
		TemporalCoherence float64 `json:"temporalCoherence"`
		TimingVarianceMs  int64   `json:"timingVarianceMs"`
	}{
		AverageIntervalMs: int64(math.Round(m.AverageIntervalMs)),
		Entropy:           round3(m.Entropy),
		InputEventCount:   m.InputEventCount,
		MaxIntervalMs:     m.MaxIntervalMs,
		MinIntervalMs:     m.MinIntervalMs,
		TemporalCoherence: round3(m.TemporalCoherence),
		TimingVarianceMs:  int64(math.Round(m.TimingVarianceMs)),
	}
	return canonicalSHA256(record)
}

// CompoundHash binds an artifact's content hash and its process digest hash
// into one provenance unit. The fields are named, not order-commutative:
// CompoundHash(a, b) differs from CompoundHash(b, a).
func CompoundHash(contentHash, processDigestHash string) (string, error) {
	record := struct {
		ContentHash   string `json:"contentHash"`
		ProcessDigest string `json:"processDigest"`
	}{contentHash, processDigestHash}
	return canonicalSHA256(record)
}

// thresholdCommitment hashes the five threshold verdicts with a random
// nonce. A trusting verifier can accept "all five held" without seeing
// values; it carries no soundness against a dishonest generator.
func thresholdCommitment(report ThresholdReport) (string, error) {
	record := struct {
		CoherenceMet bool   `json:"coherenceMet"`
		DurationMet  bool   `json:"durationMet"`
		EntropyMet   bool   `json:"entropyMet"`
		IntervalMet  bool   `json:"intervalMet"`
		Nonce        string `json:"nonce"`
		RateMet      bool   `json:"rateMet"`
	}{
		CoherenceMet: report.CoherenceMet,
		DurationMet:  report.DurationMet,
		EntropyMet:   report.EntropyMet,
		IntervalMet:  report.IntervalMet,
		Nonce:        uuid.NewString(),
		RateMet:      report.RateMet,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalSHA256 serializes v, canonicalizes per RFC 8785, and returns the
// lowercase hex SHA-256.
func canonicalSHA256(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func timestampPB(t time.Time) *timestamppb.Timestamp {
	if t.IsZero() {
		return nil
	}
	return timestamppb.New(t)
}

// MetricsToPB converts a metrics snapshot to its wire form.
func MetricsToPB(m Metrics) *pb.EffortMetrics {
	return &pb.EffortMetrics{
		SessionStart:      timestampPB(m.SessionStart),
		SessionEnd:        timestampPB(m.SessionEnd),
		DurationMs:        m.DurationMs,
		Entropy:           m.Entropy,
		TemporalCoherence: m.TemporalCoherence,
		InputEventCount:   int64(m.InputEventCount),
		TimingVarianceMs:  m.TimingVarianceMs,
		AverageIntervalMs: m.AverageIntervalMs,
		MinIntervalMs:     m.MinIntervalMs,
		MaxIntervalMs:     m.MaxIntervalMs,
	}
}

// ThresholdsToPB converts threshold config to its wire form.
func ThresholdsToPB(th Thresholds) *pb.EffortThresholds {
	return &pb.EffortThresholds{
		MinDurationMs:        th.MinDuration.Milliseconds(),
		MinEntropy:           th.MinEntropy,
		MinTemporalCoherence: th.MinTemporalCoherence,
		MaxInputRate:         th.MaxInputRate,
		MinEventIntervalMs:   th.MinEventInterval.Milliseconds(),
	}
}
