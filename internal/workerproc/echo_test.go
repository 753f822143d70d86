package workerproc

import (
	"testing"

	"github.com/lsst/qserv-sub024/internal/wireproto"
	"github.com/stretchr/testify/require"
)

func TestWorkerEchoRequestFinishesImmediatelyWithSameData(t *testing.T) {
	r := NewWorkerEchoRequest("e1", wireproto.DefaultPriority, "ping")
	runToFinish(t, r.Base)

	require.Equal(t, StateFinished, r.State())
	require.Equal(t, wireproto.StatusSuccess, r.ExtendedStatus())
	require.Equal(t, "ping", r.Data())
}
