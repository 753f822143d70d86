package main

import (
	"context"
	"fmt"

	"github.com/lsst/qserv-sub024/internal/wireproto"
	"github.com/lsst/qserv-sub024/internal/workerproc"
)

// newBuilder returns a workerproc.Builder that dispatches every QUEUED
// frame to the matching WorkerRequest constructor, decoding each frame's
// JSON body with the field names internal/request's queued-request types
// write on the wire.
func newBuilder(ctx context.Context, worker, dataDir string, transport workerproc.Transport, sql workerproc.SqlService, index workerproc.IndexSource) workerproc.Builder {
	expected := expectedFiles(dataDir)
	return func(hdr wireproto.RequestHeader, body []byte) (*workerproc.Base, func() (interface{}, error), error) {
		switch hdr.QueuedType {
		case "REPLICATION":
			var b struct {
				WorkerFrom string `json:"worker_from"`
				Database   string `json:"database"`
				Chunk      uint32 `json:"chunk"`
			}
			if err := wireproto.Unmarshal(body, &b); err != nil {
				return nil, nil, err
			}
			r := workerproc.NewWorkerReplicationRequest(ctx, hdr.ID, worker, b.WorkerFrom, dataDir, b.Database, b.Chunk, hdr.Priority, transport, expected)
			return r.Base, func() (interface{}, error) { return r.Result(), nil }, nil

		case "DELETE":
			var b struct {
				Database string `json:"database"`
				Chunk    uint32 `json:"chunk"`
			}
			if err := wireproto.Unmarshal(body, &b); err != nil {
				return nil, nil, err
			}
			r := workerproc.NewWorkerDeleteRequest(hdr.ID, worker, dataDir, b.Database, b.Chunk, hdr.Priority, expected)
			return r.Base, func() (interface{}, error) { return r.Result(), nil }, nil

		case "FIND":
			var b struct {
				Database        string `json:"database"`
				Chunk           uint32 `json:"chunk"`
				ComputeChecksum bool   `json:"compute_checksum"`
			}
			if err := wireproto.Unmarshal(body, &b); err != nil {
				return nil, nil, err
			}
			r := workerproc.NewWorkerFindRequest(hdr.ID, worker, dataDir, b.Database, b.Chunk, b.ComputeChecksum, 1024, hdr.Priority, expected)
			return r.Base, func() (interface{}, error) { return r.Result(), nil }, nil

		case "SQL":
			var b struct {
				Operation string `json:"operation"`
				Database  string `json:"database"`
				Query     string `json:"query,omitempty"`
				Table     string `json:"table,omitempty"`
				IndexSpec string `json:"index_spec,omitempty"`
			}
			if err := wireproto.Unmarshal(body, &b); err != nil {
				return nil, nil, err
			}
			r := workerproc.NewWorkerSqlRequest(hdr.ID, hdr.Priority, sql, b.Operation, b.Database, b.Query, b.Table, b.IndexSpec)
			return r.Base, func() (interface{}, error) { return r.Result(), nil }, nil

		case "DIRECTOR_INDEX":
			var b struct {
				Database        string `json:"database"`
				DirectorTable   string `json:"director_table"`
				Chunk           uint32 `json:"chunk"`
				HasTransactions bool   `json:"has_transactions"`
				TransactionID   uint32 `json:"transaction_id"`
				Offset          int64  `json:"offset"`
			}
			if err := wireproto.Unmarshal(body, &b); err != nil {
				return nil, nil, err
			}
			r := workerproc.NewWorkerDirectorIndexRequest(hdr.ID, hdr.Priority, index, b.Offset, 4*1024*1024)
			return r.Base, func() (interface{}, error) {
				return struct {
					Data       []byte `json:"data"`
					TotalBytes int64  `json:"total_bytes"`
				}{r.Data(), r.TotalBytes()}, nil
			}, nil

		case "ECHO":
			var b struct {
				Data string `json:"data"`
			}
			if err := wireproto.Unmarshal(body, &b); err != nil {
				return nil, nil, err
			}
			r := workerproc.NewWorkerEchoRequest(hdr.ID, hdr.Priority, b.Data)
			return r.Base, func() (interface{}, error) {
				return struct {
					Data string `json:"data"`
				}{r.Data()}, nil
			}, nil
		}
		return nil, nil, fmt.Errorf("workerd: unknown queued_type %q", hdr.QueuedType)
	}
}
