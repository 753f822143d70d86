package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitAndNextRespectsConcurrencyCap(t *testing.T) {
	m := NewManager(1)
	m.Submit(&TransactionContribInfo{ID: "a", Database: "D", CreateTimeMs: 1})
	m.Submit(&TransactionContribInfo{ID: "b", Database: "D", CreateTimeMs: 2})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := m.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", r.ID)
	require.Equal(t, StatusInProgress, r.Status)

	// Second request is still queued behind the concurrency cap of 1.
	_, err = m.NextTimeout(20)
	require.ErrorIs(t, err, ErrTimerExpired)

	require.NoError(t, m.Completed("a"))
	r2, err := m.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", r2.ID)
}

func TestNextPicksLowestConcurrencyRatio(t *testing.T) {
	m := NewManager(2)
	m.Submit(&TransactionContribInfo{ID: "d1-a", Database: "D1", CreateTimeMs: 1})
	m.Submit(&TransactionContribInfo{ID: "d2-a", Database: "D2", CreateTimeMs: 2})

	ctx := context.Background()
	first, err := m.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "d1-a", first.ID) // D1 ratio 0/2 vs D2 ratio 0/2, tie -> oldest createTime wins

	m.Submit(&TransactionContribInfo{ID: "d1-b", Database: "D1", CreateTimeMs: 3})
	// D1 is now at 1/2 = 0.5, D2 at 0/2 = 0: D2's request should win next.
	second, err := m.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "d2-a", second.ID)
}

func TestCancelQueuedIsDeterministic(t *testing.T) {
	m := NewManager(1)
	m.Submit(&TransactionContribInfo{ID: "a", Database: "D", CreateTimeMs: 1})
	st, err := m.Cancel("a")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, st)
	require.Equal(t, 0, m.QueueDepth("D"))

	_, err = m.NextTimeout(20)
	require.ErrorIs(t, err, ErrTimerExpired)
}

func TestCancelInProgressIsAdvisory(t *testing.T) {
	m := NewManager(1)
	m.Submit(&TransactionContribInfo{ID: "a", Database: "D", CreateTimeMs: 1})
	r, err := m.Next(context.Background())
	require.NoError(t, err)

	st, err := m.Cancel("a")
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, st) // not forced to CANCELLED while running
	require.True(t, r.CancelRequested())
}
