package workerproc

import (
	"context"
	"os"
	"path/filepath"

	"github.com/lsst/qserv-sub024/internal/replica"
	"github.com/lsst/qserv-sub024/internal/wireproto"
)

// Transport fetches the files backing one (database, chunk) replica from
// a peer worker into destDir. The actual delivery mechanism (HTTP/xrootd)
// is an out-of-scope external collaborator per the design's Non-goals;
// WorkerReplicationRequest only consumes its result.
type Transport interface {
	Fetch(ctx context.Context, sourceWorker, database string, chunk uint32, destDir string) error
}

// WorkerReplicationRequest pulls a chunk's files from a source worker via
// Transport, then performs the same file census WorkerFindRequest does to
// report the resulting replica state.
type WorkerReplicationRequest struct {
	*Base

	ctx           context.Context
	transport     Transport
	dataDir       string
	worker        string
	sourceWorker  string
	database      string
	chunk         uint32
	expectedFiles ExpectedFilesFunc
	result        replica.Info
}

func NewWorkerReplicationRequest(ctx context.Context, id, worker, sourceWorker, dataDir, database string, chunk uint32, priority wireproto.Priority, transport Transport, expectedFiles ExpectedFilesFunc) *WorkerReplicationRequest {
	r := &WorkerReplicationRequest{
		ctx: ctx, transport: transport, dataDir: dataDir, worker: worker, sourceWorker: sourceWorker,
		database: database, chunk: chunk, expectedFiles: expectedFiles,
	}
	r.Base = NewBase(id, "REPLICATION", priority, Hooks{Execute: r.execute})
	return r
}

func (r *WorkerReplicationRequest) Result() replica.Info { return r.result }

func (r *WorkerReplicationRequest) execute(b *Base) (bool, wireproto.Status, error) {
	fsMu.Lock()
	defer fsMu.Unlock()
	destDir := filepath.Join(r.dataDir, r.database)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return false, "", err
	}
	if err := r.transport.Fetch(r.ctx, r.sourceWorker, r.database, r.chunk, destDir); err != nil {
		return false, "", err
	}

	expected, err := r.expectedFiles(r.database, r.chunk)
	if err != nil {
		return false, "", err
	}
	var files []replica.FileInfo
	for _, name := range expected {
		fi, err := os.Stat(filepath.Join(destDir, name))
		if err != nil {
			continue
		}
		files = append(files, replica.FileInfo{Name: name, Size: fi.Size(), MTime: fi.ModTime()})
	}
	status := replica.StatusIncomplete
	if len(files) == 0 {
		status = replica.StatusNotFound
	} else if len(files) == len(expected) {
		status = replica.StatusComplete
	}
	r.result = replica.Info{Worker: r.worker, Database: r.database, Chunk: r.chunk, Status: status, Files: files}
	return true, wireproto.StatusSuccess, nil
}
