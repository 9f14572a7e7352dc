package effort

import (
	"context"
	"log/slog"
	"time"
)

// VerifyMethod names the check that produced a verification verdict.
type VerifyMethod string

const (
	// MethodZK means the external verifier accepted the attached proof;
	// no metric values were disclosed.
	MethodZK VerifyMethod = "zk"

	// MethodDirect means the thresholds were re-evaluated against the
	// digest's disclosed metrics.
	MethodDirect VerifyMethod = "direct"
)

// VerifyResult is the verdict plus the path that produced it.
type VerifyResult struct {
	Valid  bool         `json:"valid"`
	Method VerifyMethod `json:"method"`
}

// VerifyDigest re-evaluates the five threshold conditions directly against
// the digest's metrics. This path discloses the metrics.
func VerifyDigest(d *Digest, th Thresholds) bool {
	return Evaluate(d.Metrics, th).All()
}

// Verifier prefers the privacy-preserving zero-knowledge check and falls
// back to direct comparison.
type Verifier struct {
	prover  Prover
	timeout time.Duration
}

// NewVerifier creates a verifier. A nil prover forces the direct path.
func NewVerifier(prover Prover, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = DefaultProofTimeout
	}
	return &Verifier{prover: prover, timeout: timeout}
}

// VerifyWithZK checks the digest against the thresholds. A true verdict from
// the external verifier is authoritative regardless of the metric values.
// An absent proof, a verifier failure, or a false verdict all fall back to
// the direct metric comparison; ZK absence is never itself a rejection.
func (v *Verifier) VerifyWithZK(ctx context.Context, d *Digest, th Thresholds) VerifyResult {
	if d.ZKProof != nil && v.prover != nil {
		zkCtx, cancel := context.WithTimeout(ctx, v.timeout)
		valid, err := v.prover.Verify(zkCtx, d.ZKProof, ThresholdsToPB(th))
		cancel()
		switch {
		case err != nil:
			slog.Warn("zk verification unavailable, falling back to direct check", "error", err)
		case valid:
			return VerifyResult{Valid: true, Method: MethodZK}
		default:
			slog.Warn("zk proof rejected, falling back to direct check")
		}
	}
	return VerifyResult{Valid: VerifyDigest(d, th), Method: MethodDirect}
}
