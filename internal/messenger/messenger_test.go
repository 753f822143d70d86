package messenger

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lsst/qserv-sub024/internal/wireproto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeWorker echoes back a SUCCESS response for every request it receives,
// simulating a minimal worker-side processor for Messenger tests.
func fakeWorker(t *testing.T, conn io.ReadWriteCloser) {
	t.Helper()
	go func() {
		defer conn.Close()
		for {
			body, err := wireproto.ReadFrame(conn)
			if err != nil {
				return
			}
			var frame wireproto.Frame
			if err := wireproto.Unmarshal(body, &frame); err != nil {
				return
			}
			if frame.Request == nil {
				continue
			}
			resp := wireproto.Frame{Response: &wireproto.ResponseHeader{
				ID:     frame.Request.ID,
				Status: wireproto.StatusSuccess,
			}}
			if err := wireproto.WriteFrame(conn, resp); err != nil {
				return
			}
		}
	}()
}

func TestConnectionSendReceivesResponse(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	fakeWorker(t, serverConn)

	dial := func(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
		return clientConn, nil
	}

	log := zap.NewNop()
	m := New(dial, 10*time.Millisecond, 100*time.Millisecond, log)
	defer m.Close()

	conn := m.Connection("W1", "ignored")

	done := make(chan wireproto.ResponseHeader, 1)
	err := conn.Send(wireproto.RequestHeader{ID: "r1", Category: wireproto.CategoryRequest, InstanceID: "i1"}, nil, func(hdr wireproto.ResponseHeader, body []byte) {
		done <- hdr
	})
	require.NoError(t, err)

	select {
	case hdr := <-done:
		require.Equal(t, wireproto.StatusSuccess, hdr.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestConnectionRejectsDuplicateOutstandingID(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	fakeWorker(t, serverConn)

	dial := func(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
		return clientConn, nil
	}
	log := zap.NewNop()
	m := New(dial, 10*time.Millisecond, 100*time.Millisecond, log)
	defer m.Close()
	conn := m.Connection("W1", "ignored")

	block := make(chan struct{})
	err := conn.Send(wireproto.RequestHeader{ID: "dup", Category: wireproto.CategoryRequest}, nil, func(hdr wireproto.ResponseHeader, body []byte) {
		close(block)
	})
	require.NoError(t, err)

	err = conn.Send(wireproto.RequestHeader{ID: "dup", Category: wireproto.CategoryRequest}, nil, func(wireproto.ResponseHeader, []byte) {})
	require.Error(t, err)

	<-block
}

func TestConnectionAbortsInFlightOnTransportFailure(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	_ = serverConn // closed immediately below to simulate a dead worker

	dial := func(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
		return clientConn, nil
	}
	log := zap.NewNop()
	m := New(dial, 5*time.Millisecond, 20*time.Millisecond, log)
	defer m.Close()
	conn := m.Connection("W1", "ignored")

	done := make(chan wireproto.ResponseHeader, 1)
	err := conn.Send(wireproto.RequestHeader{ID: "r1", Category: wireproto.CategoryRequest}, nil, func(hdr wireproto.ResponseHeader, body []byte) {
		done <- hdr
	})
	require.NoError(t, err)

	serverConn.Close() // kills the pipe, forcing a read/write error client-side

	select {
	case hdr := <-done:
		require.Equal(t, wireproto.StatusBad, hdr.Status)
		require.Equal(t, "CLIENT_ERROR", hdr.StatusExt)
	case <-time.After(2 * time.Second):
		t.Fatal("expected in-flight call to be aborted with CLIENT_ERROR")
	}
}

func TestConnectionStopsDialingOnceCircuitOpens(t *testing.T) {
	errBusted := errors.New("dial: connection refused")
	var dialAttempts int64
	dial := func(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
		atomic.AddInt64(&dialAttempts, 1)
		return nil, errBusted
	}
	log := zap.NewNop()
	m := New(dial, time.Millisecond, 2*time.Millisecond, log)
	defer m.Close()
	m.Connection("W1", "ignored")

	// The breaker's minSamples/failureThresh (internal/breaker.New's
	// constants in newConnection) open well within this window given a
	// failing dial on every tick.
	require.Eventually(t, func() bool { return atomic.LoadInt64(&dialAttempts) >= 5 }, time.Second, time.Millisecond)

	afterOpen := atomic.LoadInt64(&dialAttempts)
	time.Sleep(50 * time.Millisecond) // well under the breaker's cooldown
	require.Equal(t, afterOpen, atomic.LoadInt64(&dialAttempts), "dial should not be attempted again while the circuit is open")
}
