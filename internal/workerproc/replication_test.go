package workerproc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lsst/qserv-sub024/internal/replica"
	"github.com/lsst/qserv-sub024/internal/wireproto"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	fetch func(ctx context.Context, sourceWorker, database string, chunk uint32, destDir string) error
}

func (f *fakeTransport) Fetch(ctx context.Context, sourceWorker, database string, chunk uint32, destDir string) error {
	return f.fetch(ctx, sourceWorker, database, chunk, destDir)
}

func TestWorkerReplicationRequestReportsCompleteAfterFetch(t *testing.T) {
	dir := t.TempDir()
	expected := func(database string, chunk uint32) ([]string, error) {
		return []string{"t_1.frm", "t_1.MYD"}, nil
	}
	transport := &fakeTransport{
		fetch: func(ctx context.Context, sourceWorker, database string, chunk uint32, destDir string) error {
			require.Equal(t, "w0", sourceWorker)
			require.Equal(t, "db1", database)
			require.Equal(t, uint32(1), chunk)
			writeFile(t, filepath.Join(destDir, "t_1.frm"), 4)
			writeFile(t, filepath.Join(destDir, "t_1.MYD"), 4)
			return nil
		},
	}

	r := NewWorkerReplicationRequest(context.Background(), "r1", "w1", "w0", dir, "db1", 1, wireproto.DefaultPriority, transport, expected)
	runToFinish(t, r.Base)

	require.Equal(t, StateFinished, r.State())
	require.Equal(t, wireproto.StatusSuccess, r.ExtendedStatus())
	require.Equal(t, replica.StatusComplete, r.Result().Status)
	require.Len(t, r.Result().Files, 2)
}

func TestWorkerReplicationRequestFailsWhenTransportErrors(t *testing.T) {
	dir := t.TempDir()
	expected := func(database string, chunk uint32) ([]string, error) { return nil, nil }
	transport := &fakeTransport{
		fetch: func(ctx context.Context, sourceWorker, database string, chunk uint32, destDir string) error {
			return errors.New("peer unreachable")
		},
	}

	r := NewWorkerReplicationRequest(context.Background(), "r2", "w1", "w0", dir, "db1", 1, wireproto.DefaultPriority, transport, expected)
	runToFinish(t, r.Base)

	require.Equal(t, StateFinished, r.State())
	require.Equal(t, wireproto.StatusFailed, r.ExtendedStatus())
}

func TestWorkerReplicationRequestReportsNotFoundWhenFetchYieldsNothing(t *testing.T) {
	dir := t.TempDir()
	expected := func(database string, chunk uint32) ([]string, error) {
		return []string{"t_1.frm"}, nil
	}
	transport := &fakeTransport{
		fetch: func(ctx context.Context, sourceWorker, database string, chunk uint32, destDir string) error {
			return nil
		},
	}

	r := NewWorkerReplicationRequest(context.Background(), "r3", "w1", "w0", dir, "db1", 1, wireproto.DefaultPriority, transport, expected)
	runToFinish(t, r.Base)

	require.Equal(t, replica.StatusNotFound, r.Result().Status)
	_, err := os.Stat(filepath.Join(dir, "db1"))
	require.NoError(t, err) // destDir still created up front
}
