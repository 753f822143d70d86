package workerproc

import (
	"os"
	"path/filepath"

	"github.com/lsst/qserv-sub024/internal/replica"
	"github.com/lsst/qserv-sub024/internal/wireproto"
)

// WorkerDeleteRequest removes every file backing one (database, chunk)
// replica. Missing files are not an error: deleting an already-absent
// replica is idempotent.
type WorkerDeleteRequest struct {
	*Base

	dataDir       string
	worker        string
	database      string
	chunk         uint32
	expectedFiles ExpectedFilesFunc
	result        replica.Info
}

func NewWorkerDeleteRequest(id, worker, dataDir, database string, chunk uint32, priority wireproto.Priority, expectedFiles ExpectedFilesFunc) *WorkerDeleteRequest {
	r := &WorkerDeleteRequest{dataDir: dataDir, worker: worker, database: database, chunk: chunk, expectedFiles: expectedFiles}
	r.Base = NewBase(id, "DELETE", priority, Hooks{Execute: r.execute})
	return r
}

func (r *WorkerDeleteRequest) Result() replica.Info { return r.result }

func (r *WorkerDeleteRequest) execute(b *Base) (bool, wireproto.Status, error) {
	fsMu.Lock()
	defer fsMu.Unlock()

	expected, err := r.expectedFiles(r.database, r.chunk)
	if err != nil {
		return false, "", err
	}
	dir := filepath.Join(r.dataDir, r.database)
	for _, name := range expected {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return false, "", err
		}
	}
	r.result = replica.Info{Worker: r.worker, Database: r.database, Chunk: r.chunk, Status: replica.StatusNotFound}
	return true, wireproto.StatusSuccess, nil
}
