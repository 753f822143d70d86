package workerproc

import (
	"encoding/json"

	"github.com/lsst/qserv-sub024/internal/wireproto"
)

// SqlService executes one SqlRequest operation. The SQL engine itself is
// an out-of-scope external collaborator per the design's Non-goals;
// WorkerSqlRequest only dispatches the operation union to it.
type SqlService interface {
	Execute(operation, database, query, table, indexSpec string) (json.RawMessage, error)
}

// WorkerSqlRequest dispatches one SqlRequest operation to a SqlService.
type WorkerSqlRequest struct {
	*Base

	svc       SqlService
	operation string
	database  string
	query     string
	table     string
	indexSpec string
	result    json.RawMessage
}

func NewWorkerSqlRequest(id string, priority wireproto.Priority, svc SqlService, operation, database, query, table, indexSpec string) *WorkerSqlRequest {
	r := &WorkerSqlRequest{svc: svc, operation: operation, database: database, query: query, table: table, indexSpec: indexSpec}
	r.Base = NewBase(id, "SQL", priority, Hooks{Execute: r.execute})
	return r
}

func (r *WorkerSqlRequest) Result() json.RawMessage { return r.result }

func (r *WorkerSqlRequest) execute(b *Base) (bool, wireproto.Status, error) {
	rows, err := r.svc.Execute(r.operation, r.database, r.query, r.table, r.indexSpec)
	if err != nil {
		return false, "", err
	}
	r.result = rows
	return true, wireproto.StatusSuccess, nil
}
