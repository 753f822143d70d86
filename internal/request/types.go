package request

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lsst/qserv-sub024/internal/messenger"
	"github.com/lsst/qserv-sub024/internal/replica"
	"github.com/lsst/qserv-sub024/internal/wireproto"
	"go.uber.org/zap"
)

// IndexSpec is the four-valued index-type tag used by SqlRequest, with a
// string round trip.
type IndexSpec int

const (
	IndexDefault IndexSpec = iota
	IndexUnique
	IndexFullText
	IndexSpatial
)

func (s IndexSpec) String() string {
	switch s {
	case IndexDefault:
		return "DEFAULT"
	case IndexUnique:
		return "UNIQUE"
	case IndexFullText:
		return "FULLTEXT"
	case IndexSpatial:
		return "SPATIAL"
	default:
		return "DEFAULT"
	}
}

// ParseIndexSpec parses the string form produced by IndexSpec.String.
func ParseIndexSpec(s string) (IndexSpec, error) {
	switch s {
	case "DEFAULT":
		return IndexDefault, nil
	case "UNIQUE":
		return IndexUnique, nil
	case "FULLTEXT":
		return IndexFullText, nil
	case "SPATIAL":
		return IndexSpatial, nil
	default:
		return IndexDefault, fmt.Errorf("request: unknown index spec %q", s)
	}
}

// SqlOperation is the discriminated operation union SqlRequest carries.
type SqlOperation string

const (
	SqlQuery                     SqlOperation = "QUERY"
	SqlCreateDatabase             SqlOperation = "CREATE_DATABASE"
	SqlDropDatabase               SqlOperation = "DROP_DATABASE"
	SqlEnableDatabase             SqlOperation = "ENABLE_DATABASE"
	SqlDisableDatabase            SqlOperation = "DISABLE_DATABASE"
	SqlGrantAccess                SqlOperation = "GRANT_ACCESS"
	SqlCreateTable                SqlOperation = "CREATE_TABLE"
	SqlDropTable                  SqlOperation = "DROP_TABLE"
	SqlRemoveTablePartitioning     SqlOperation = "REMOVE_TABLE_PARTITIONING"
	SqlDropTablePartition          SqlOperation = "DROP_TABLE_PARTITION"
	SqlGetTableIndex               SqlOperation = "GET_TABLE_INDEX"
	SqlCreateTableIndex            SqlOperation = "CREATE_TABLE_INDEX"
	SqlDropTableIndex              SqlOperation = "DROP_TABLE_INDEX"
	SqlAlterTable                  SqlOperation = "ALTER_TABLE"
	SqlTableRowStats               SqlOperation = "TABLE_ROW_STATS"
)

// Deps bundles the pieces every constructor below needs, trimming
// each factory function's parameter list.
type Deps struct {
	Conn      *messenger.Connection
	RetryBase time.Duration
	Registry  Registry
	Log       *zap.Logger
}

// --- ReplicationRequest ---------------------------------------------------

type ReplicationRequest struct {
	*Base
	WorkerFrom, WorkerTo, Database string
	Chunk                          uint32
	Result                         replica.Info
}

func NewReplicationRequest(id, workerFrom, workerTo, database string, chunk uint32, priority wireproto.Priority, keepTracking bool, d Deps) *ReplicationRequest {
	r := &ReplicationRequest{WorkerFrom: workerFrom, WorkerTo: workerTo, Database: database, Chunk: chunk}
	r.Base = NewBase(id, "REPLICATION", workerTo, priority, keepTracking, true, d.Conn, d.RetryBase, d.Registry, d.Log, Hooks{
		StartImpl: r.startImpl,
		TrackImpl: trackImpl("REPLICATION"),
		HandleSuccess: func(b *Base, hdr wireproto.ResponseHeader, body []byte) (bool, error) {
			var info replica.Info
			if err := wireproto.Unmarshal(body, &info); err != nil {
				return false, err
			}
			r.Result = info
			return true, nil
		},
	})
	return r
}

func (r *ReplicationRequest) startImpl(b *Base) (wireproto.RequestHeader, interface{}) {
	hdr := wireproto.RequestHeader{ID: b.id, Category: wireproto.CategoryQueued, QueuedType: "REPLICATION", Priority: b.priority, InstanceID: b.targetWorker}
	body := struct {
		WorkerFrom string `json:"worker_from"`
		Database   string `json:"database"`
		Chunk      uint32 `json:"chunk"`
	}{r.WorkerFrom, r.Database, r.Chunk}
	return hdr, body
}

// --- DeleteRequest ---------------------------------------------------------

type DeleteRequest struct {
	*Base
	Worker, Database string
	Chunk            uint32
	Result           replica.Info
}

func NewDeleteRequest(id, worker, database string, chunk uint32, priority wireproto.Priority, keepTracking bool, d Deps) *DeleteRequest {
	r := &DeleteRequest{Worker: worker, Database: database, Chunk: chunk}
	r.Base = NewBase(id, "DELETE", worker, priority, keepTracking, true, d.Conn, d.RetryBase, d.Registry, d.Log, Hooks{
		StartImpl: func(b *Base) (wireproto.RequestHeader, interface{}) {
			hdr := wireproto.RequestHeader{ID: b.id, Category: wireproto.CategoryQueued, QueuedType: "DELETE", Priority: b.priority, InstanceID: worker}
			body := struct {
				Database string `json:"database"`
				Chunk    uint32 `json:"chunk"`
			}{database, chunk}
			return hdr, body
		},
		TrackImpl: trackImpl("DELETE"),
		HandleSuccess: func(b *Base, hdr wireproto.ResponseHeader, body []byte) (bool, error) {
			var info replica.Info
			if err := wireproto.Unmarshal(body, &info); err != nil {
				return false, err
			}
			info.Status = replica.StatusNotFound // DELETED semantics: nothing left behind
			r.Result = info
			return true, nil
		},
	})
	return r
}

// --- FindRequest -------------------------------------------------------------

type FindRequest struct {
	*Base
	Worker, Database string
	Chunk            uint32
	ComputeChecksum  bool
	Result           replica.Info
}

func NewFindRequest(id, worker, database string, chunk uint32, computeChecksum bool, priority wireproto.Priority, keepTracking bool, d Deps) *FindRequest {
	r := &FindRequest{Worker: worker, Database: database, Chunk: chunk, ComputeChecksum: computeChecksum}
	r.Base = NewBase(id, "FIND", worker, priority, keepTracking, true, d.Conn, d.RetryBase, d.Registry, d.Log, Hooks{
		StartImpl: func(b *Base) (wireproto.RequestHeader, interface{}) {
			hdr := wireproto.RequestHeader{ID: b.id, Category: wireproto.CategoryQueued, QueuedType: "FIND", Priority: b.priority, InstanceID: worker}
			body := struct {
				Database        string `json:"database"`
				Chunk           uint32 `json:"chunk"`
				ComputeChecksum bool   `json:"compute_checksum"`
			}{database, chunk, computeChecksum}
			return hdr, body
		},
		TrackImpl: trackImpl("FIND"),
		HandleSuccess: func(b *Base, hdr wireproto.ResponseHeader, body []byte) (bool, error) {
			var info replica.Info
			// A worker that no longer has the database configured reports
			// success with no files rather than an error; an empty/absent
			// body unmarshals to a zero-value Info, which already has a
			// nil Files slice, so no special case is needed here.
			if err := wireproto.Unmarshal(body, &info); err != nil {
				return false, err
			}
			r.Result = info
			return true, nil
		},
	})
	return r
}

// --- FindAllRequest ----------------------------------------------------------

// PersistFunc persists a replica census on behalf of FindAllRequest; it
// returns an error only for failures unrelated to the database having been
// removed from configuration (that specific failure is the caller's to
// detect and report back as "removed", downgrading to SUCCESS).
type PersistFunc func(infos []replica.Info) (removed bool, err error)

type FindAllRequest struct {
	*Base
	Worker, Database string
	SaveReplicaInfo  bool
	Persist          PersistFunc
	Result           []replica.Info
}

func NewFindAllRequest(id, worker, database string, saveReplicaInfo bool, persist PersistFunc, priority wireproto.Priority, keepTracking bool, d Deps) *FindAllRequest {
	r := &FindAllRequest{Worker: worker, Database: database, SaveReplicaInfo: saveReplicaInfo, Persist: persist}
	r.Base = NewBase(id, "FIND_ALL", worker, priority, keepTracking, true, d.Conn, d.RetryBase, d.Registry, d.Log, Hooks{
		StartImpl: func(b *Base) (wireproto.RequestHeader, interface{}) {
			hdr := wireproto.RequestHeader{ID: b.id, Category: wireproto.CategoryQueued, QueuedType: "FIND_ALL", Priority: b.priority, InstanceID: worker}
			body := struct {
				Database string `json:"database"`
			}{database}
			return hdr, body
		},
		TrackImpl: trackImpl("FIND_ALL"),
		HandleSuccess: func(b *Base, hdr wireproto.ResponseHeader, body []byte) (bool, error) {
			var infos []replica.Info
			if err := wireproto.Unmarshal(body, &infos); err != nil {
				return false, err
			}
			r.Result = infos
			if saveReplicaInfo && persist != nil {
				removed, err := persist(infos)
				if err != nil && !removed {
					return false, err
				}
				if removed {
					b.log.Warn("find-all: database removed from configuration during persist, downgrading to SUCCESS", zap.String("database", database))
				}
			}
			return true, nil
		},
	})
	return r
}

// --- DirectorIndexRequest -----------------------------------------------------

type DirectorIndexRequest struct {
	*Base
	Worker, Database, DirectorTable string
	Chunk                           uint32
	HasTransactions                 bool
	TransactionID                   uint32

	offset       int64
	bytesWritten int64
	totalBytes   int64
	tmpFile      *os.File
	tmpPath      string
}

func NewDirectorIndexRequest(id, worker, database, directorTable string, chunk uint32, hasTransactions bool, transactionID uint32, tmpPath string, priority wireproto.Priority, keepTracking bool, d Deps) (*DirectorIndexRequest, error) {
	if directorTable != "" && !replica.ValidDirectorChunk(chunk) {
		return nil, fmt.Errorf("request: chunk %d is the reserved overflow id, not valid for director table %q", chunk, directorTable)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("request: create director-index temp file: %w", err)
	}
	r := &DirectorIndexRequest{
		Worker: worker, Database: database, DirectorTable: directorTable,
		Chunk: chunk, HasTransactions: hasTransactions, TransactionID: transactionID,
		tmpFile: f, tmpPath: tmpPath,
	}
	r.Base = NewBase(id, "DIRECTOR_INDEX", worker, priority, keepTracking, true, d.Conn, d.RetryBase, d.Registry, d.Log, Hooks{
		StartImpl:     r.frameAt(0),
		TrackImpl:     trackImpl("DIRECTOR_INDEX"),
		HandleSuccess: r.handleSuccess,
		FinishImpl: func(b *Base, ext ExtendedState) {
			_ = r.tmpFile.Close()
		},
	})
	return r, nil
}

func (r *DirectorIndexRequest) frameAt(offset int64) func(b *Base) (wireproto.RequestHeader, interface{}) {
	return func(b *Base) (wireproto.RequestHeader, interface{}) {
		hdr := wireproto.RequestHeader{ID: b.id, Category: wireproto.CategoryQueued, QueuedType: "DIRECTOR_INDEX", Priority: b.priority, InstanceID: r.Worker}
		body := struct {
			Database        string `json:"database"`
			DirectorTable   string `json:"director_table"`
			Chunk           uint32 `json:"chunk"`
			HasTransactions bool   `json:"has_transactions"`
			TransactionID   uint32 `json:"transaction_id"`
			Offset          int64  `json:"offset"`
		}{r.Database, r.DirectorTable, r.Chunk, r.HasTransactions, r.TransactionID, offset}
		return hdr, body
	}
}

func (r *DirectorIndexRequest) handleSuccess(b *Base, hdr wireproto.ResponseHeader, body []byte) (bool, error) {
	var payload struct {
		Data       []byte `json:"data"`
		TotalBytes int64  `json:"total_bytes"`
	}
	if err := wireproto.Unmarshal(body, &payload); err != nil {
		return false, err
	}
	if _, err := r.tmpFile.Write(payload.Data); err != nil {
		return false, err
	}
	r.bytesWritten += int64(len(payload.Data))
	r.totalBytes = payload.TotalBytes
	r.offset += int64(len(payload.Data))

	if r.bytesWritten >= r.totalBytes {
		return true, nil
	}

	// Dispose the just-completed server-side request at VERY_HIGH priority
	// (best-effort, no response tracking needed) and re-send an initial
	// request with the new offset.
	disposeHdr := wireproto.RequestHeader{ID: b.id + "-dispose", Category: wireproto.CategoryQueued, ManagementType: "DISPOSE", Priority: wireproto.PriorityVeryHigh, InstanceID: r.Worker}
	_ = b.SendDetached(disposeHdr, struct {
		TargetID string `json:"target_id"`
	}{b.id})

	nextHdr, nextBody := r.frameAt(r.offset)(b)
	if err := b.Send(nextHdr, nextBody); err != nil {
		return false, err
	}
	return false, nil
}

// --- SqlRequest ----------------------------------------------------------------

type SqlRequest struct {
	*Base
	Worker    string
	Operation SqlOperation
	Query     string
	Database  string
	Table     string
	IndexSpec IndexSpec
	ResultRows json.RawMessage
}

func NewSqlRequest(id, worker string, op SqlOperation, database, query, table string, idx IndexSpec, priority wireproto.Priority, keepTracking bool, d Deps) *SqlRequest {
	r := &SqlRequest{Worker: worker, Operation: op, Query: query, Database: database, Table: table, IndexSpec: idx}
	r.Base = NewBase(id, "SQL", worker, priority, keepTracking, true, d.Conn, d.RetryBase, d.Registry, d.Log, Hooks{
		StartImpl: func(b *Base) (wireproto.RequestHeader, interface{}) {
			hdr := wireproto.RequestHeader{ID: b.id, Category: wireproto.CategoryQueued, QueuedType: "SQL", Priority: b.priority, InstanceID: worker}
			body := struct {
				Operation string `json:"operation"`
				Database  string `json:"database"`
				Query     string `json:"query,omitempty"`
				Table     string `json:"table,omitempty"`
				IndexSpec string `json:"index_spec,omitempty"`
			}{string(op), database, query, table, idx.String()}
			return hdr, body
		},
		TrackImpl: trackImpl("SQL"),
		HandleSuccess: func(b *Base, hdr wireproto.ResponseHeader, body []byte) (bool, error) {
			r.ResultRows = json.RawMessage(body)
			return true, nil
		},
	})
	return r
}

// --- EchoRequest (SPEC_FULL.md addition: transport-layer liveness probe) ------

type EchoRequest struct {
	*Base
	Worker, Data string
	Echoed       string
}

func NewEchoRequest(id, worker, data string, priority wireproto.Priority, d Deps) *EchoRequest {
	r := &EchoRequest{Worker: worker, Data: data}
	r.Base = NewBase(id, "ECHO", worker, priority, false, false, d.Conn, d.RetryBase, d.Registry, d.Log, Hooks{
		StartImpl: func(b *Base) (wireproto.RequestHeader, interface{}) {
			hdr := wireproto.RequestHeader{ID: b.id, Category: wireproto.CategoryQueued, QueuedType: "ECHO", Priority: b.priority, InstanceID: worker}
			return hdr, struct {
				Data string `json:"data"`
			}{data}
		},
		TrackImpl: trackImpl("ECHO"),
		HandleSuccess: func(b *Base, hdr wireproto.ResponseHeader, body []byte) (bool, error) {
			var payload struct {
				Data string `json:"data"`
			}
			if err := wireproto.Unmarshal(body, &payload); err != nil {
				return false, err
			}
			r.Echoed = payload.Data
			return true, nil
		},
	})
	return r
}

// trackImpl builds the generic REQUEST_STATUS tracking frame shared by
// every queued-request type; the worker looks up the target by id.
func trackImpl(queuedType string) func(b *Base) (wireproto.RequestHeader, interface{}) {
	return func(b *Base) (wireproto.RequestHeader, interface{}) {
		hdr := wireproto.RequestHeader{ID: b.id + "-track", Category: wireproto.CategoryQueued, ManagementType: "REQUEST_STATUS", Priority: b.priority, InstanceID: b.targetWorker}
		body := struct {
			TargetID   string `json:"target_id"`
			QueuedType string `json:"queued_type"`
		}{b.id, queuedType}
		return hdr, body
	}
}
