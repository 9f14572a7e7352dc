// Package prover wraps the external zero-knowledge threshold prover.
//
// The node depends only on pb.ProverServiceClient so the real gRPC stub and
// the in-process mock are interchangeable. Every call carries a deadline;
// prover trouble is surfaced as an error for the caller to degrade on, never
// swallowed here.
package prover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gdnshnk/pohw-registry-node-sub003/internal/circuitbreaker"
	"github.com/gdnshnk/pohw-registry-node-sub003/pb"
)

// ErrUnavailable wraps any transport-level prover failure.
var ErrUnavailable = errors.New("prover unavailable")

// DefaultTimeout applies when the incoming context has no deadline.
const DefaultTimeout = 10 * time.Second

// Client calls the prover service with per-call deadlines. A run of
// transport failures opens a circuit breaker so the pipeline degrades
// immediately instead of burning a deadline per submission.
type Client struct {
	client  pb.ProverServiceClient
	timeout time.Duration
	breaker *circuitbreaker.Breaker
}

// NewClient wraps a prover service client.
func NewClient(c pb.ProverServiceClient, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		client:  c,
		timeout: timeout,
		breaker: circuitbreaker.New("prover", 5, 30*time.Second),
	}
}

// Generate requests a threshold proof for the given metrics.
func (c *Client) Generate(ctx context.Context, m *pb.EffortMetrics, th *pb.EffortThresholds) (*pb.ThresholdProof, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	var proof *pb.ThresholdProof
	err := c.breaker.Do(func() error {
		p, err := c.client.GenerateProof(ctx, &pb.GenerateRequest{Metrics: m, Thresholds: th})
		if err != nil {
			return err
		}
		proof = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: generate: %v", ErrUnavailable, err)
	}
	return proof, nil
}

// Verify checks a proof against the thresholds. A false verdict with a nil
// error means the proof is well-formed but does not attest the thresholds,
// and does not count against the breaker.
func (c *Client) Verify(ctx context.Context, proof *pb.ThresholdProof, th *pb.EffortThresholds) (bool, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	var reply *pb.VerifyReply
	err := c.breaker.Do(func() error {
		r, err := c.client.VerifyProof(ctx, &pb.VerifyRequest{Proof: proof, Thresholds: th})
		if err != nil {
			return err
		}
		reply = r
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: verify: %v", ErrUnavailable, err)
	}
	return reply.Valid, nil
}

func (c *Client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
