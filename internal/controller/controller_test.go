package controller

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/lsst/qserv-sub024/internal/messenger"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noopDialer(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	return nil, errors.New("dial not exercised by this test")
}

func newTestMessenger() *messenger.Messenger {
	return messenger.New(noopDialer, time.Second, time.Minute, zap.NewNop())
}

func TestControllerReplicateFailsForUnknownWorker(t *testing.T) {
	noWorkers := func(worker string) (string, bool) { return "", false }
	c := New(newTestMessenger(), noWorkers, nil, time.Second, time.Minute, time.Minute, 1, zap.NewNop())

	_, err := c.Replicate(context.Background(), "w0", "w1", "db1", 1)
	require.Error(t, err)
}

func TestControllerStatsReflectsRegistry(t *testing.T) {
	c := New(newTestMessenger(), func(string) (string, bool) { return "", false }, nil, time.Second, time.Minute, time.Minute, 1, zap.NewNop())

	require.Equal(t, Stats{ActiveRequests: 0, ActiveJobs: 0}, c.Stats())
}
