package workerproc

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/lsst/qserv-sub024/internal/wireproto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func echoBuilder(hdr wireproto.RequestHeader, body []byte) (*Base, func() (interface{}, error), error) {
	var b struct {
		Data string `json:"data"`
	}
	if err := wireproto.Unmarshal(body, &b); err != nil {
		return nil, nil, err
	}
	r := NewWorkerEchoRequest(hdr.ID, hdr.Priority, b.Data)
	return r.Base, func() (interface{}, error) {
		return struct {
			Data string `json:"data"`
		}{Data: r.Data()}, nil
	}, nil
}

func sendFrame(t *testing.T, conn net.Conn, frame wireproto.Frame) {
	t.Helper()
	require.NoError(t, wireproto.WriteFrame(conn, frame))
}

func readResponse(t *testing.T, conn net.Conn) wireproto.Frame {
	t.Helper()
	raw, err := wireproto.ReadFrame(conn)
	require.NoError(t, err)
	var frame wireproto.Frame
	require.NoError(t, wireproto.Unmarshal(raw, &frame))
	return frame
}

func TestServerDispatchesQueuedFrameAndRepliesOnFinish(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	proc := New(1, zap.NewNop())
	srv := NewServer(proc, echoBuilder, "w1", 0, zap.NewNop())
	go srv.handle(server)

	body, err := json.Marshal(struct {
		Data string `json:"data"`
	}{Data: "ping"})
	require.NoError(t, err)

	sendFrame(t, client, wireproto.Frame{
		Request: &wireproto.RequestHeader{ID: "e1", Category: wireproto.CategoryQueued, QueuedType: "ECHO", InstanceID: "w1"},
		Body:    body,
	})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := readResponse(t, client)
	require.NotNil(t, resp.Response)
	require.Equal(t, "e1", resp.Response.ID)
	require.Equal(t, wireproto.StatusSuccess, resp.Response.Status)

	var respBody struct {
		Data string `json:"data"`
	}
	require.NoError(t, wireproto.Unmarshal(resp.Body, &respBody))
	require.Equal(t, "ping", respBody.Data)
}

func TestServerRejectsInstanceMismatch(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	proc := New(1, zap.NewNop())
	srv := NewServer(proc, echoBuilder, "w1", 0, zap.NewNop())
	go srv.handle(server)

	sendFrame(t, client, wireproto.Frame{
		Request: &wireproto.RequestHeader{ID: "e2", Category: wireproto.CategoryQueued, QueuedType: "ECHO", InstanceID: "other"},
	})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := readResponse(t, client)
	require.Equal(t, wireproto.StatusBad, resp.Response.Status)
	require.Equal(t, "INSTANCE_MISMATCH", resp.Response.StatusExt)
}

func TestServerHandlesRequestStatusManagementFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	proc := New(0, zap.NewNop()) // no worker drains the queue; request stays pending
	srv := NewServer(proc, echoBuilder, "w1", 0, zap.NewNop())
	go srv.handle(server)

	body, err := json.Marshal(struct {
		Data string `json:"data"`
	}{Data: "ping"})
	require.NoError(t, err)
	sendFrame(t, client, wireproto.Frame{
		Request: &wireproto.RequestHeader{ID: "e3", Category: wireproto.CategoryQueued, QueuedType: "ECHO", InstanceID: "w1"},
		Body:    body,
	})

	statusBody, err := json.Marshal(struct {
		TargetID   string `json:"target_id"`
		QueuedType string `json:"queued_type"`
	}{TargetID: "e3"})
	require.NoError(t, err)
	sendFrame(t, client, wireproto.Frame{
		Request: &wireproto.RequestHeader{ID: "m1", ManagementType: "REQUEST_STATUS", InstanceID: "w1"},
		Body:    statusBody,
	})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := readResponse(t, client)
	require.Equal(t, "m1", resp.Response.ID)
	require.Equal(t, wireproto.StatusInProgress, resp.Response.Status)
}
