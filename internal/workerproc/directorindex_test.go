package workerproc

import (
	"errors"
	"testing"

	"github.com/lsst/qserv-sub024/internal/wireproto"
	"github.com/stretchr/testify/require"
)

type fakeIndexSource struct {
	readAt func(offset, maxBytes int64) ([]byte, int64, error)
}

func (f *fakeIndexSource) ReadAt(offset, maxBytes int64) ([]byte, int64, error) {
	return f.readAt(offset, maxBytes)
}

func TestWorkerDirectorIndexRequestReturnsOnePage(t *testing.T) {
	source := &fakeIndexSource{
		readAt: func(offset, maxBytes int64) ([]byte, int64, error) {
			require.Equal(t, int64(100), offset)
			require.Equal(t, int64(10), maxBytes)
			return []byte("0123456789"), 500, nil
		},
	}

	r := NewWorkerDirectorIndexRequest("i1", wireproto.DefaultPriority, source, 100, 10)
	runToFinish(t, r.Base)

	require.Equal(t, StateFinished, r.State())
	require.Equal(t, wireproto.StatusSuccess, r.ExtendedStatus())
	require.Equal(t, []byte("0123456789"), r.Data())
	require.Equal(t, int64(500), r.TotalBytes())
}

func TestWorkerDirectorIndexRequestFailsWhenSourceErrors(t *testing.T) {
	source := &fakeIndexSource{
		readAt: func(offset, maxBytes int64) ([]byte, int64, error) {
			return nil, 0, errors.New("table not yet scanned")
		},
	}

	r := NewWorkerDirectorIndexRequest("i2", wireproto.DefaultPriority, source, 0, 10)
	runToFinish(t, r.Base)

	require.Equal(t, StateFinished, r.State())
	require.Equal(t, wireproto.StatusFailed, r.ExtendedStatus())
}
