package anomaly

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEncodesTimestampPrefix(t *testing.T) {
	log := NewLog(nil)
	log.now = func() time.Time {
		return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	}

	entry := log.Record(context.Background(), "id", "rapid submission burst")
	assert.Equal(t, "2026-08-30T12:00:00Z: rapid submission burst", entry)
}

func TestOldestEntriesEvictedAtCap(t *testing.T) {
	log := NewLog(nil)
	ctx := context.Background()

	for i := 0; i < MaxEntries+5; i++ {
		log.Record(ctx, "id", fmt.Sprintf("event-%d", i))
	}

	entries := log.Entries(ctx, "id")
	require.Len(t, entries, MaxEntries)
	assert.Contains(t, entries[0], "event-5")
	assert.Contains(t, entries[len(entries)-1], fmt.Sprintf("event-%d", MaxEntries+4))
}

func TestHasRecentUsesPrefixOrdering(t *testing.T) {
	log := NewLog(nil)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	log.now = func() time.Time { return base.Add(-2 * time.Hour) }
	log.Record(ctx, "id", "stale entry")

	log.now = func() time.Time { return base }
	assert.False(t, log.HasRecent(ctx, "id", time.Hour))
	assert.True(t, log.HasRecent(ctx, "id", 3*time.Hour))

	log.now = func() time.Time { return base.Add(-5 * time.Minute) }
	log.Record(ctx, "id", "fresh entry")

	log.now = func() time.Time { return base }
	assert.True(t, log.HasRecent(ctx, "id", time.Hour))
	assert.False(t, log.HasRecent(ctx, "unknown", time.Hour))
}

func TestOnlyNewEntryPersisted(t *testing.T) {
	store := &recordingStore{}
	log := NewLog(store)
	ctx := context.Background()

	log.Record(ctx, "id", "first")
	log.Record(ctx, "id", "second")

	require.Len(t, store.appended, 2)
	assert.Contains(t, store.appended[0], "first")
	assert.Contains(t, store.appended[1], "second")
	assert.Equal(t, 1, store.reads, "store should be consulted once per identity")
}

func TestHydratesFromStore(t *testing.T) {
	store := &recordingStore{
		persisted: []string{"2026-08-01T00:00:00Z: persisted entry"},
	}
	log := NewLog(store)

	entries := log.Entries(context.Background(), "id")
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "persisted entry")
}

func TestStoreFailureKeepsMemoryAuthoritative(t *testing.T) {
	log := NewLog(&recordingStore{failing: true})
	ctx := context.Background()

	log.Record(ctx, "id", "survives store outage")
	entries := log.Entries(ctx, "id")
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "survives store outage")
}

func TestNotifyFiresPerEntry(t *testing.T) {
	log := NewLog(nil)
	var got []string
	log.SetNotify(func(identity, entry string) {
		got = append(got, identity+"|"+entry)
	})

	log.Record(context.Background(), "id", "observed")
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "id|")
	assert.Contains(t, got[0], "observed")
}

type recordingStore struct {
	persisted []string
	appended  []string
	reads     int
	failing   bool
}

func (s *recordingStore) AnomalyEntries(ctx context.Context, identity string) ([]string, error) {
	s.reads++
	if s.failing {
		return nil, assert.AnError
	}
	return s.persisted, nil
}

func (s *recordingStore) AppendAnomaly(ctx context.Context, identity, entry string) error {
	if s.failing {
		return assert.AnError
	}
	s.appended = append(s.appended, entry)
	return nil
}
