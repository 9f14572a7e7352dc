// Package pb holds the wire contract for the external threshold prover.
//
// The prover runs as a separate service; the registry node only depends on
// this client interface so the real gRPC stub or an in-process mock can be
// injected interchangeably.
package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// EffortMetrics carries the aggregate session statistics handed to the
// prover. No raw event timestamps ever cross this boundary.
type EffortMetrics struct {
	SessionStart      *timestamppb.Timestamp
	SessionEnd        *timestamppb.Timestamp
	DurationMs        int64
	Entropy           float64
	TemporalCoherence float64
	InputEventCount   int64
	TimingVarianceMs  float64
	AverageIntervalMs float64
	MinIntervalMs     int64
	MaxIntervalMs     int64
}

// EffortThresholds mirrors the node's configured human-effort thresholds.
type EffortThresholds struct {
	MinDurationMs        int64
	MinEntropy           float64
	MinTemporalCoherence float64
	MaxInputRate         float64
	MinEventIntervalMs   int64
}

// ThresholdProof is the opaque proof blob plus circuit metadata.
type ThresholdProof struct {
	Proof          []byte
	PublicInputs   [][]byte
	CircuitId      string
	CircuitVersion uint32
	GeneratedAt    *timestamppb.Timestamp
}

// GenerateRequest asks the prover to attest that metrics satisfy thresholds.
type GenerateRequest struct {
	Metrics    *EffortMetrics
	Thresholds *EffortThresholds
}

// VerifyRequest asks the prover to check a proof against thresholds.
type VerifyRequest struct {
	Proof      *ThresholdProof
	Thresholds *EffortThresholds
}

// VerifyReply reports the verifier's verdict.
type VerifyReply struct {
	Valid  bool
	Reason string
}

// ProverServiceClient is the client side of the prover service.
type ProverServiceClient interface {
	GenerateProof(ctx context.Context, in *GenerateRequest, opts ...grpc.CallOption) (*ThresholdProof, error)
	VerifyProof(ctx context.Context, in *VerifyRequest, opts ...grpc.CallOption) (*VerifyReply, error)
}

// MockProverClient is an in-process ProverServiceClient for nodes deployed
// without a prover sidecar.
type MockProverClient struct{}

func (m *MockProverClient) GenerateProof(ctx context.Context, in *GenerateRequest, opts ...grpc.CallOption) (*ThresholdProof, error) {
	return &ThresholdProof{
		Proof:          []byte("mock-proof"),
		CircuitId:      "effort_thresholds",
		CircuitVersion: 1,
		GeneratedAt:    timestamppb.Now(),
	}, nil
}

func (m *MockProverClient) VerifyProof(ctx context.Context, in *VerifyRequest, opts ...grpc.CallOption) (*VerifyReply, error) {
	valid := in.Proof != nil && len(in.Proof.Proof) > 0
	return &VerifyReply{Valid: valid}, nil
}
