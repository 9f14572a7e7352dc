package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdnshnk/pohw-registry-node-sub003/internal/ratelimit"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/reputation"
)

func TestMemoryReputationRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec, err := m.Reputation(ctx, "id")
	require.NoError(t, err)
	assert.Nil(t, rec, "absent record is (nil, nil), not an error")

	saved := reputation.Record{
		Identity:    "id",
		Score:       72.5,
		LastUpdated: time.Now().UTC(),
		Tier:        reputation.TierBlue,
		TrustLevel:  0.725,
	}
	require.NoError(t, m.SaveReputation(ctx, &saved))

	rec, err = m.Reputation(ctx, "id")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, saved, *rec)

	rec.Score = 0
	rec2, err := m.Reputation(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, 72.5, rec2.Score, "returned record must be a copy")
}

func TestMemorySubmissionsAppendOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.AppendSubmission(ctx, ratelimit.SubmissionRecord{
		Identity: "id", ContentHash: "a", Timestamp: time.Now(),
	}))
	require.NoError(t, m.AppendSubmission(ctx, ratelimit.SubmissionRecord{
		Identity: "id", ContentHash: "b", Timestamp: time.Now(),
	}))

	subs, err := m.Submissions(ctx, "id")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "a", subs[0].ContentHash)
	assert.Equal(t, "b", subs[1].ContentHash)

	other, err := m.Submissions(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemoryAnomalyEntries(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.AppendAnomaly(ctx, "id", "2026-08-30T12:00:00Z: first"))
	require.NoError(t, m.AppendAnomaly(ctx, "id", "2026-08-30T12:01:00Z: second"))

	entries, err := m.AnomalyEntries(ctx, "id")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0], "first")

	entries[0] = "mutated"
	again, err := m.AnomalyEntries(ctx, "id")
	require.NoError(t, err)
	assert.Contains(t, again[0], "first")
}
