package ratelimit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdnshnk/pohw-registry-node-sub003/internal/anomaly"
)

var epoch = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func TestFirstSubmissionAlwaysAllowed(t *testing.T) {
	tracker := NewTracker(DefaultConfig(), nil, nil, nil)

	res := tracker.Check(context.Background(), "id", epoch)
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 1.0, res.CurrentRate)
}

func TestFloorViolationRejectsWithoutAuditTrace(t *testing.T) {
	log := anomaly.NewLog(nil)
	tracker := NewTracker(DefaultConfig(), nil, log, nil)
	ctx := context.Background()

	first := tracker.Check(ctx, "id", epoch)
	require.True(t, first.Allowed)
	tracker.Record(ctx, "id", "hash-1", epoch, &first)

	res := tracker.Check(ctx, "id", epoch.Add(3*time.Second))
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonFloorViolation, res.Reason)
	assert.Empty(t, log.Entries(ctx, "id"), "throttling must not pollute the anomaly trail")
}

func TestBackdatedTimestampCannotSlipUnderFloor(t *testing.T) {
	tracker := NewTracker(DefaultConfig(), nil, nil, nil)
	ctx := context.Background()

	first := tracker.Check(ctx, "id", epoch)
	tracker.Record(ctx, "id", "hash-1", epoch, &first)

	res := tracker.Check(ctx, "id", epoch.Add(-3*time.Second))
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonFloorViolation, res.Reason)
}

func TestEleventhSubmissionInAMinuteWarnsButAllows(t *testing.T) {
	tracker := NewTracker(DefaultConfig(), nil, nil, nil)
	ctx := context.Background()

	ts := epoch
	for i := 0; i < 10; i++ {
		res := tracker.Check(ctx, "id", ts)
		require.True(t, res.Allowed, "submission %d should pass", i+1)
		tracker.Record(ctx, "id", "hash", ts, &res)
		ts = ts.Add(6 * time.Second)
	}

	// The candidate counts toward the window, so 10 prior plus this one
	// overruns the ceiling of 10 without tripping the anomaly multiplier.
	res := tracker.Check(ctx, "id", ts)
	assert.True(t, res.Allowed)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "per-minute submission ceiling exceeded")
	assert.True(t, res.EntropyDiscrepancy)
	assert.Equal(t, 11.0, res.CurrentRate)
}

func TestSevereOverrunRejectsAndLogsOneAnomaly(t *testing.T) {
	cfg := Config{MaxPerMinute: 10, MaxPerHour: 1000, MinIntervalMs: 100, AnomalyMultiplier: 5}
	log := anomaly.NewLog(nil)
	tracker := NewTracker(cfg, nil, log, nil)
	ctx := context.Background()

	ts := epoch
	var res Result
	for i := 0; i < 50; i++ {
		res = tracker.Check(ctx, "id", ts)
		if !res.Allowed {
			break
		}
		tracker.Record(ctx, "id", "hash", ts, &res)
		ts = ts.Add(time.Second)
	}

	require.False(t, res.Allowed)
	assert.Equal(t, ReasonRateAnomaly, res.Reason)
	assert.True(t, res.EntropyDiscrepancy)

	entries := log.Entries(ctx, "id")
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "rate anomaly")
}

func TestPerHourCeilingWarns(t *testing.T) {
	cfg := Config{MaxPerMinute: 1000, MaxPerHour: 100, MinIntervalMs: 1000, AnomalyMultiplier: 5}
	tracker := NewTracker(cfg, nil, nil, nil)
	ctx := context.Background()

	ts := epoch
	for i := 0; i < 100; i++ {
		res := tracker.Check(ctx, "id", ts)
		require.True(t, res.Allowed)
		tracker.Record(ctx, "id", "hash", ts, &res)
		ts = ts.Add(20 * time.Second)
	}

	res := tracker.Check(ctx, "id", ts)
	assert.True(t, res.Allowed)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "per-hour submission ceiling exceeded")
	assert.False(t, res.EntropyDiscrepancy)
}

func TestRecordPrunesPastRetention(t *testing.T) {
	tracker := NewTracker(DefaultConfig(), nil, nil, nil)
	ctx := context.Background()

	tracker.Record(ctx, "id", "old", epoch, nil)
	tracker.Record(ctx, "id", "fresh", epoch.Add(25*time.Hour), nil)

	history := tracker.History(ctx, "id")
	require.Len(t, history, 1)
	assert.Equal(t, "fresh", history[0].ContentHash)
}

func TestRecordCarriesResultFlags(t *testing.T) {
	tracker := NewTracker(DefaultConfig(), nil, nil, nil)

	res := Result{Allowed: true, Warnings: []string{"w"}, EntropyDiscrepancy: true}
	rec := tracker.Record(context.Background(), "id", "hash", epoch, &res)
	assert.True(t, rec.RateLimitWarning)
	assert.True(t, rec.EntropyDiscrepancy)
}

func TestRecordReportsProofSuccess(t *testing.T) {
	rep := &countingReporter{}
	tracker := NewTracker(DefaultConfig(), nil, nil, rep)
	ctx := context.Background()

	tracker.Record(ctx, "id", "hash", epoch, &Result{Allowed: true})
	assert.Equal(t, 1, rep.calls)

	tracker.Record(ctx, "id", "hash", epoch.Add(time.Minute), &Result{Allowed: false})
	assert.Equal(t, 1, rep.calls, "an explicitly rejected result must not earn reputation")
}

func TestHydratesAndPrunesPersistedHistory(t *testing.T) {
	store := &stubStore{persisted: []SubmissionRecord{
		{Identity: "id", Timestamp: time.Now().Add(-25 * time.Hour), ContentHash: "stale"},
		{Identity: "id", Timestamp: time.Now().Add(-time.Hour), ContentHash: "live"},
	}}
	tracker := NewTracker(DefaultConfig(), store, nil, nil)

	history := tracker.History(context.Background(), "id")
	require.Len(t, history, 1)
	assert.Equal(t, "live", history[0].ContentHash)
}

func TestResultOmitsAbsentWarningFields(t *testing.T) {
	raw, err := json.Marshal(Result{Allowed: true, CurrentRate: 1})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "warnings")
	assert.NotContains(t, string(raw), "entropy_discrepancy")
	assert.NotContains(t, string(raw), "reason")
}

type countingReporter struct{ calls int }

func (r *countingReporter) ProofSuccess(ctx context.Context, identity string) { r.calls++ }

type stubStore struct {
	persisted []SubmissionRecord
	appended  []SubmissionRecord
}

func (s *stubStore) Submissions(ctx context.Context, identity string) ([]SubmissionRecord, error) {
	return s.persisted, nil
}

func (s *stubStore) AppendSubmission(ctx context.Context, rec SubmissionRecord) error {
	s.appended = append(s.appended, rec)
	return nil
}
