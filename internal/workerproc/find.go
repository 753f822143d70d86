package workerproc

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lsst/qserv-sub024/internal/replica"
	"github.com/lsst/qserv-sub024/internal/wireproto"
)

// fsMu serializes concurrent data-folder activity across every WorkerRequest
// that touches the on-disk replica files, per section 4.8's "all
// file-system operations are performed under a class-wide mutex."
var fsMu sync.Mutex

// ExpectedFilesFunc resolves the file names a complete replica of
// (database, chunk) should have on disk. The partitioning geometry that
// decides this list is an external collaborator (out of scope per the
// design's Non-goals); WorkerFindRequest only consumes its output.
type ExpectedFilesFunc func(database string, chunk uint32) ([]string, error)

// WorkerFindRequest implements the two modes of section 4.8: a one-shot
// stat-every-file census, or an incremental checksum pass over whichever
// of those files are actually present.
type WorkerFindRequest struct {
	*Base

	dataDir         string
	worker          string
	database        string
	chunk           uint32
	computeChecksum bool
	expectedFiles   ExpectedFilesFunc
	recordSizeBytes int

	present []string // absolute paths, set on the first Execute call
	engine  *replica.ChecksumEngine
	result  replica.Info
}

func NewWorkerFindRequest(id, worker, dataDir, database string, chunk uint32, computeChecksum bool, recordSizeBytes int, priority wireproto.Priority, expectedFiles ExpectedFilesFunc) *WorkerFindRequest {
	r := &WorkerFindRequest{
		dataDir: dataDir, worker: worker, database: database, chunk: chunk,
		computeChecksum: computeChecksum, expectedFiles: expectedFiles, recordSizeBytes: recordSizeBytes,
	}
	r.Base = NewBase(id, "FIND", priority, Hooks{Execute: r.execute})
	return r
}

// Result is meaningful once the request has finished SUCCESS.
func (r *WorkerFindRequest) Result() replica.Info { return r.result }

func (r *WorkerFindRequest) execute(b *Base) (bool, wireproto.Status, error) {
	if r.present == nil {
		return r.firstStep()
	}
	if !r.computeChecksum {
		return true, wireproto.StatusSuccess, nil
	}
	return r.checksumStep()
}

func (r *WorkerFindRequest) firstStep() (bool, wireproto.Status, error) {
	fsMu.Lock()
	defer fsMu.Unlock()

	expected, err := r.expectedFiles(r.database, r.chunk)
	if err != nil {
		return false, "", err
	}

	dir := filepath.Join(r.dataDir, r.database)
	var files []replica.FileInfo
	var present []string
	for _, name := range expected {
		fi, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		files = append(files, replica.FileInfo{Name: name, Size: fi.Size(), MTime: fi.ModTime()})
		present = append(present, filepath.Join(dir, name))
	}
	sort.Strings(present)
	r.present = present
	if present == nil {
		r.present = []string{} // distinguish "checked, found none" from "not yet checked"
	}

	switch {
	case len(files) == 0:
		r.result = replica.Info{Worker: r.worker, Database: r.database, Chunk: r.chunk, Status: replica.StatusNotFound}
	case len(files) == len(expected):
		r.result = replica.Info{Worker: r.worker, Database: r.database, Chunk: r.chunk, Status: replica.StatusComplete, Files: files}
	default:
		r.result = replica.Info{Worker: r.worker, Database: r.database, Chunk: r.chunk, Status: replica.StatusIncomplete, Files: files}
	}

	if !r.computeChecksum {
		return true, wireproto.StatusSuccess, nil
	}
	if len(present) == 0 {
		return true, wireproto.StatusSuccess, nil
	}
	r.engine = replica.NewChecksumEngine(present, r.recordSizeBytes)
	return false, "", nil
}

func (r *WorkerFindRequest) checksumStep() (bool, wireproto.Status, error) {
	fsMu.Lock()
	done, err := r.engine.Step()
	fsMu.Unlock()
	if err != nil {
		return false, "", err
	}
	if !done {
		return false, "", nil
	}
	sum := r.engine.SumString()
	for i := range r.result.Files {
		r.result.Files[i].Checksum = sum
	}
	return true, wireproto.StatusSuccess, nil
}
