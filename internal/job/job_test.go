package job

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/lsst/qserv-sub024/internal/messenger"
	"github.com/lsst/qserv-sub024/internal/replica"
	"github.com/lsst/qserv-sub024/internal/request"
	"github.com/lsst/qserv-sub024/internal/wireproto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// pipeWorker builds a dedicated Messenger wired to an in-memory net.Pipe
// standing in for one worker. It answers FIND_ALL frames with the
// worker's census (a []replica.Info) and every other queued frame with a
// single replica.Info, simulating a worker whose replication/delete
// requests succeed immediately.
func pipeWorker(t *testing.T, worker string, census []replica.Info, singleResult replica.Info) (*messenger.Messenger, func()) {
	t.Helper()
	client, server := net.Pipe()
	dial := func(ctx context.Context, addr string) (io.ReadWriteCloser, error) { return client, nil }
	m := messenger.New(dial, time.Millisecond, 5*time.Millisecond, zap.NewNop())
	m.Connection(worker, worker)

	go func() {
		defer server.Close()
		for {
			raw, err := wireproto.ReadFrame(server)
			if err != nil {
				return
			}
			var frame wireproto.Frame
			if err := wireproto.Unmarshal(raw, &frame); err != nil {
				return
			}
			if frame.Request == nil {
				continue
			}
			var body interface{} = singleResult
			if frame.Request.QueuedType == "FIND_ALL" {
				body = census
			}
			b, _ := wireproto.MarshalBody(body)
			resp := wireproto.Frame{Response: &wireproto.ResponseHeader{ID: frame.Request.ID, Status: wireproto.StatusSuccess}, Body: b}
			if err := wireproto.WriteFrame(server, resp); err != nil {
				return
			}
		}
	}()
	return m, m.Close
}

func TestFixUpJobUnreplicableChunkFinishesFailed(t *testing.T) {
	// Census: chunk 7 is COMPLETE only on W1 for database D1; no worker
	// anywhere holds a replica of D2, so W1 can never be made colocated
	// (mirrors scenario 6 in spec.md section 8).
	replicationNew := func(task ReplicationTask) *request.ReplicationRequest {
		t.Fatalf("no replication should be launched for an unreplicable chunk")
		return nil
	}

	j := NewFixUpJob("fixup1", "", []string{"D1", "D2"}, []string{"W1"}, 2, replicationNew, nil, nil, zap.NewNop())

	// Drive onFindAllFinished directly from a manufactured census snapshot
	// instead of running the precursor over the network: this scenario
	// never needs a live worker.
	fake := NewFindAllJob("fa-job", "fixup1", nil, false, func(string) *request.FindAllRequest { return nil }, zap.NewNop())
	fake.results = []replica.Info{{Worker: "W1", Database: "D1", Chunk: 7, Status: replica.StatusComplete}}
	fake.Finish(ExtSuccess)
	j.findAll = fake
	j.onFindAllFinished(fake.Base)

	require.Equal(t, StateFinished, j.State())
	require.Equal(t, ExtFailed, j.ExtendedState())
}

func TestFixUpJobChunkWithNoCompleteReplicaAnywhereFinishesFailed(t *testing.T) {
	// Census: chunk 7 is merely INCOMPLETE on W1 and entirely absent from
	// every other worker -- no COMPLETE record exists for it anywhere, for
	// any database in the family (the literal scenario 6 in spec.md
	// section 8). Disposition.Chunks() must still surface chunk 7 so the
	// planner visits it instead of silently dropping it.
	replicationNew := func(task ReplicationTask) *request.ReplicationRequest {
		t.Fatalf("no replication should be launched for an unreplicable chunk")
		return nil
	}

	j := NewFixUpJob("fixup1b", "", []string{"D1", "D2"}, []string{"W1"}, 2, replicationNew, nil, nil, zap.NewNop())

	fake := NewFindAllJob("fa-job", "fixup1b", nil, false, func(string) *request.FindAllRequest { return nil }, zap.NewNop())
	fake.results = []replica.Info{{Worker: "W1", Database: "D1", Chunk: 7, Status: replica.StatusIncomplete}}
	fake.Finish(ExtSuccess)
	j.findAll = fake
	j.onFindAllFinished(fake.Base)

	require.Equal(t, StateFinished, j.State())
	require.Equal(t, ExtFailed, j.ExtendedState())
}

func TestFixUpJobHappyPathReplicatesAndSucceeds(t *testing.T) {
	m1, close1 := pipeWorker(t, "W1",
		[]replica.Info{{Worker: "W1", Database: "D1", Chunk: 7, Status: replica.StatusComplete}},
		replica.Info{Worker: "W1", Database: "D2", Chunk: 7, Status: replica.StatusComplete})
	defer close1()
	m2, close2 := pipeWorker(t, "W2",
		[]replica.Info{{Worker: "W2", Database: "D2", Chunk: 7, Status: replica.StatusComplete}},
		replica.Info{Worker: "W2", Database: "D1", Chunk: 7, Status: replica.StatusComplete})
	defer close2()

	byWorker := map[string]*messenger.Messenger{"W1": m1, "W2": m2}

	findAllNew := func(worker string) *request.FindAllRequest {
		return request.NewFindAllRequest("fa-"+worker, worker, "", false, nil, wireproto.PriorityNormal, false,
			request.Deps{Conn: byWorker[worker].Connection(worker, worker), RetryBase: time.Millisecond, Log: zap.NewNop()})
	}
	replicationNew := func(task ReplicationTask) *request.ReplicationRequest {
		return request.NewReplicationRequest("rep-"+task.Destination, task.Source, task.Destination, task.Database, task.Chunk, wireproto.PriorityNormal, false,
			request.Deps{Conn: byWorker[task.Destination].Connection(task.Destination, task.Destination), RetryBase: time.Millisecond, Log: zap.NewNop()})
	}

	j := NewFixUpJob("fixup2", "", []string{"D1", "D2"}, []string{"W1", "W2"}, 2, replicationNew, findAllNew, nil, zap.NewNop())
	require.NoError(t, j.Start())
	j.Wait()

	require.Equal(t, ExtSuccess, j.ExtendedState())
}
