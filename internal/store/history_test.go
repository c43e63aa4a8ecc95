package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistory_RecordAndRecent(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	base := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	for i, dest := range []string{"Murphys, CA", "Arnold, CA", "Bear Valley, CA"} {
		e, err := h.Record(ctx, Entry{
			SessionID:   "session-1",
			Origin:      "Angels Camp, CA",
			Destination: dest,
			Language:    "en",
			SampleCount: 10 * (i + 1),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		assert.NotZero(t, e.ID)
	}

	recent, err := h.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "Bear Valley, CA", recent[0].Destination)
	assert.Equal(t, "Arnold, CA", recent[1].Destination)
	assert.Equal(t, 30, recent[0].SampleCount)
	assert.Equal(t, base.Add(2*time.Minute), recent[0].CreatedAt)
}

func TestHistory_DefaultTimestamp(t *testing.T) {
	h := openTestHistory(t)
	fixed := time.Date(2025, 10, 1, 8, 30, 0, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	e, err := h.Record(context.Background(), Entry{SessionID: "s", Origin: "a", Destination: "b"})
	require.NoError(t, err)
	assert.Equal(t, fixed, e.CreatedAt)

	recent, err := h.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, fixed, recent[0].CreatedAt)
}

func TestHistory_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ride.db")

	h, err := Open(path)
	require.NoError(t, err)
	_, err = h.Record(context.Background(), Entry{SessionID: "s", Origin: "a", Destination: "b"})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	h, err = Open(path)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.HealthCheck(context.Background()))
	recent, err := h.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestHistory_Empty(t *testing.T) {
	h := openTestHistory(t)
	recent, err := h.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
