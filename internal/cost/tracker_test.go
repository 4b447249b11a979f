package cost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/rag/internal/apperr"
)

func TestAddAccumulates(t *testing.T) {
	tr := NewTracker(time.Hour)

	first := tr.Add("s1", 100, 0.001)
	assert.Equal(t, 100, first.TotalTokens)
	assert.Equal(t, 1, first.Requests)

	second := tr.Add("s1", 50, 0.002)
	assert.Equal(t, 150, second.TotalTokens)
	assert.InDelta(t, 0.003, second.TotalCost, 1e-9)
	assert.Equal(t, 2, second.Requests)
}

func TestGetMissingSession(t *testing.T) {
	tr := NewTracker(time.Hour)
	_, err := tr.Get("nope")
	require.Error(t, err)
	assert.Equal(t, apperr.KindSessionNotFound, apperr.KindOf(err))
}

func TestClear(t *testing.T) {
	tr := NewTracker(time.Hour)
	tr.Add("s1", 10, 0.1)

	assert.True(t, tr.Clear("s1"))
	assert.False(t, tr.Clear("s1"))

	_, err := tr.Get("s1")
	assert.Error(t, err)
}

func TestEvictionBeforeCreate(t *testing.T) {
	tr := NewTracker(time.Hour)

	current := time.Unix(1000, 0)
	tr.now = func() time.Time { return current }

	tr.Add("stale", 10, 0.1)

	// Idle past the TTL; the next create sweeps it out.
	current = current.Add(2 * time.Hour)
	tr.Add("fresh", 5, 0.05)

	_, err := tr.Get("stale")
	assert.Error(t, err)
	snap, err := tr.Get("fresh")
	require.NoError(t, err)
	assert.Equal(t, 5, snap.TotalTokens)
}

func TestGetAllReturnsCopy(t *testing.T) {
	tr := NewTracker(time.Hour)
	tr.Add("s1", 10, 0.1)

	all := tr.GetAll()
	require.Len(t, all, 1)

	s := all["s1"]
	s.TotalTokens = 9999
	again, err := tr.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, 10, again.TotalTokens)
}
