package prover

import (
	"context"
	"crypto/sha256"
	"fmt"

	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/gdnshnk/pohw-registry-node-sub003/pb"
)

// Mock is a deterministic in-process prover for tests and proverless
// deployments. It "proves" by hashing the metric aggregates; Verify accepts
// exactly the proofs Generate produced unless overridden.
type Mock struct {
	GenerateErr error
	VerifyErr   error
	// ForceInvalid makes Verify reject every proof.
	ForceInvalid bool

	GenerateCalls int
	VerifyCalls   int
}

// NewMock returns a mock that proves and verifies successfully.
func NewMock() *Mock {
	return &Mock{}
}

// Generate returns an opaque deterministic proof blob.
func (m *Mock) Generate(ctx context.Context, metrics *pb.EffortMetrics, th *pb.EffortThresholds) (*pb.ThresholdProof, error) {
	m.GenerateCalls++
	if m.GenerateErr != nil {
		return nil, m.GenerateErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%.6f|%.6f|%d",
		metrics.DurationMs, metrics.Entropy, metrics.TemporalCoherence, metrics.InputEventCount)))
	return &pb.ThresholdProof{
		Proof:          sum[:],
		CircuitId:      "effort_thresholds",
		CircuitVersion: 1,
		GeneratedAt:    timestamppb.Now(),
	}, nil
}

// Verify accepts any non-empty proof unless configured otherwise.
func (m *Mock) Verify(ctx context.Context, proof *pb.ThresholdProof, th *pb.EffortThresholds) (bool, error) {
	m.VerifyCalls++
	if m.VerifyErr != nil {
		return false, m.VerifyErr
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if m.ForceInvalid {
		return false, nil
	}
	return proof != nil && len(proof.Proof) > 0, nil
}
