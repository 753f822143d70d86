package dbsvc

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/lsst/qserv-sub024/internal/replica"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	mr := miniredis.RunT(t)
	pool, err := New(mr.Addr(), "", 0, 2)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestSaveLoadReplicaInfoRoundTrip(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	require.NoError(t, p.RegisterDatabase(ctx, "db1"))

	infos := []replica.Info{{Chunk: 1, Status: replica.StatusComplete}}
	removed, err := p.SaveReplicaInfo(ctx, "db1", infos)
	require.NoError(t, err)
	require.False(t, removed)

	got, err := p.LoadReplicaInfo(ctx, "db1")
	require.NoError(t, err)
	require.Equal(t, infos, got)
}

func TestSaveReplicaInfoReportsRemovedForUnregisteredDatabase(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	removed, err := p.SaveReplicaInfo(ctx, "nope", []replica.Info{})
	require.NoError(t, err)
	require.True(t, removed)
}

func TestLoadReplicaInfoNilWhenNeverSaved(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()
	require.NoError(t, p.RegisterDatabase(ctx, "db1"))

	got, err := p.LoadReplicaInfo(ctx, "db1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestContributionIndexAndDelete(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	require.NoError(t, p.SaveContribution(ctx, "db1", "c1", map[string]string{"k": "v"}))
	require.NoError(t, p.SaveContribution(ctx, "db1", "c2", map[string]string{"k": "v"}))

	ids, err := p.ListContributionIDs(ctx, "db1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"c1", "c2"}, ids)

	var out map[string]string
	require.NoError(t, p.LoadContribution(ctx, "c1", &out))
	require.Equal(t, "v", out["k"])

	require.NoError(t, p.DeleteContribution(ctx, "db1", "c1"))
	ids, err = p.ListContributionIDs(ctx, "db1")
	require.NoError(t, err)
	require.Equal(t, []string{"c2"}, ids)
}

func TestListDatabasesReflectsRegisterUnregister(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	require.NoError(t, p.RegisterDatabase(ctx, "a"))
	require.NoError(t, p.RegisterDatabase(ctx, "b"))
	names, err := p.ListDatabases(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, names)

	require.NoError(t, p.UnregisterDatabase(ctx, "a"))
	names, err = p.ListDatabases(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, names)
}

func TestPoolAllocateBlocksUntilRelease(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	s1, err := p.allocate(ctx)
	require.NoError(t, err)
	s2, err := p.allocate(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s3, err := p.allocate(context.Background())
		require.NoError(t, err)
		p.release(s3)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("allocate should have blocked with both services checked out")
	default:
	}

	p.release(s1)
	<-done
	p.release(s2)
}
