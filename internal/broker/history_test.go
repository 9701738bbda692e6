package broker

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRecentNewestFirst(t *testing.T) {
	h, err := OpenHistory(filepath.Join(t.TempDir(), "rounds.db"))
	require.NoError(t, err)
	defer h.Close()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, h.Record(&RoundRecord{
			ID:        id,
			Client:    "127.0.0.1:5000",
			StartedAt: base.Add(time.Duration(i) * time.Second),
			Duration:  1500 * time.Millisecond,
			Offered:   i,
		}))
	}
	require.NoError(t, h.Record(&RoundRecord{ID: "r0", StartedAt: base.Add(-time.Minute), Error: "receive fingerprints: closed"}))

	n, err := h.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	recent, err := h.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "r3", recent[0].ID)
	assert.Equal(t, "r2", recent[1].ID)
	assert.Equal(t, 1500*time.Millisecond, recent[0].Duration)
	assert.True(t, recent[0].StartedAt.Equal(base.Add(2*time.Second)))

	all, err := h.Recent(10)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "r0", all[3].ID)
	assert.Equal(t, "receive fingerprints: closed", all[3].Error)
}

func TestHistoryDuplicateID(t *testing.T) {
	h, err := OpenHistory(":memory:")
	require.NoError(t, err)
	defer h.Close()

	rec := &RoundRecord{ID: "dup", StartedAt: time.Now()}
	require.NoError(t, h.Record(rec))
	assert.Error(t, h.Record(rec))
}
