package workerproc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lsst/qserv-sub024/internal/replica"
	"github.com/lsst/qserv-sub024/internal/wireproto"
	"github.com/stretchr/testify/require"
)

func runToFinish(t *testing.T, b *Base) {
	t.Helper()
	b.init(0, nil)
	b.start()
	for !b.step() {
	}
}

func TestWorkerDeleteRequestRemovesPresentFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "db1", "t_1.frm"), 8)
	writeFile(t, filepath.Join(dir, "db1", "t_1.MYD"), 8)
	expected := func(database string, chunk uint32) ([]string, error) {
		return []string{"t_1.frm", "t_1.MYD"}, nil
	}

	r := NewWorkerDeleteRequest("d1", "w1", dir, "db1", 1, wireproto.DefaultPriority, expected)
	runToFinish(t, r.Base)

	require.Equal(t, StateFinished, r.State())
	require.Equal(t, wireproto.StatusSuccess, r.ExtendedStatus())
	_, err := os.Stat(filepath.Join(dir, "db1", "t_1.frm"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "db1", "t_1.MYD"))
	require.True(t, os.IsNotExist(err))
	require.Equal(t, replica.StatusNotFound, r.Result().Status)
}

func TestWorkerDeleteRequestIsIdempotentWhenFilesAlreadyMissing(t *testing.T) {
	dir := t.TempDir()
	expected := func(database string, chunk uint32) ([]string, error) {
		return []string{"missing.frm"}, nil
	}

	r := NewWorkerDeleteRequest("d2", "w1", dir, "db1", 1, wireproto.DefaultPriority, expected)
	runToFinish(t, r.Base)

	require.Equal(t, StateFinished, r.State())
	require.Equal(t, wireproto.StatusSuccess, r.ExtendedStatus())
}
