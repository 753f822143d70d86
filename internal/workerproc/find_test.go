package workerproc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lsst/qserv-sub024/internal/replica"
	"github.com/lsst/qserv-sub024/internal/wireproto"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, n int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, n), 0o644))
}

func TestWorkerFindRequestReportsCompleteWhenAllFilesPresent(t *testing.T) {
	dir := t.TempDir()
	expected := func(database string, chunk uint32) ([]string, error) {
		return []string{"t_1.frm", "t_1.MYD", "t_1.MYI"}, nil
	}
	for _, name := range []string{"t_1.frm", "t_1.MYD", "t_1.MYI"} {
		writeFile(t, filepath.Join(dir, "db1", name), 16)
	}

	r := NewWorkerFindRequest("f1", "w1", dir, "db1", 1, false, 1024, wireproto.DefaultPriority, expected)
	done := make(chan struct{})
	r.SetOnFinish(func(b *Base) { close(done) })
	r.Base.init(0, nil)
	r.Base.start()
	for !r.Base.step() {
	}
	<-done

	require.Equal(t, replica.StatusComplete, r.Result().Status)
	require.Len(t, r.Result().Files, 3)
}

func TestWorkerFindRequestReportsIncompleteWhenSomeFilesMissing(t *testing.T) {
	dir := t.TempDir()
	expected := func(database string, chunk uint32) ([]string, error) {
		return []string{"t_1.frm", "t_1.MYD", "t_1.MYI"}, nil
	}
	writeFile(t, filepath.Join(dir, "db1", "t_1.frm"), 8)

	r := NewWorkerFindRequest("f2", "w1", dir, "db1", 1, false, 1024, wireproto.DefaultPriority, expected)
	done := make(chan struct{})
	r.SetOnFinish(func(b *Base) { close(done) })
	r.Base.init(0, nil)
	r.Base.start()
	for !r.Base.step() {
	}
	<-done

	require.Equal(t, replica.StatusIncomplete, r.Result().Status)
	require.Len(t, r.Result().Files, 1)
}

func TestWorkerFindRequestReportsNotFoundWhenNoFilesPresent(t *testing.T) {
	dir := t.TempDir()
	expected := func(database string, chunk uint32) ([]string, error) {
		return []string{"t_1.frm"}, nil
	}

	r := NewWorkerFindRequest("f3", "w1", dir, "db1", 1, false, 1024, wireproto.DefaultPriority, expected)
	done := make(chan struct{})
	r.SetOnFinish(func(b *Base) { close(done) })
	r.Base.init(0, nil)
	r.Base.start()
	for !r.Base.step() {
	}
	<-done

	require.Equal(t, replica.StatusNotFound, r.Result().Status)
}
