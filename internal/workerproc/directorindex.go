package workerproc

import "github.com/lsst/qserv-sub024/internal/wireproto"

// IndexSource serves one page of a director table's index, starting at
// offset. The table-scan scheduler that produces this data is an
// out-of-scope external collaborator (the on-worker scan scheduler, per
// the design's Non-goals); WorkerDirectorIndexRequest only consumes its
// output for one page per incoming frame, matching the offset-resend
// protocol request.DirectorIndexRequest drives client-side.
type IndexSource interface {
	ReadAt(offset int64, maxBytes int64) (data []byte, totalBytes int64, err error)
}

// WorkerDirectorIndexRequest answers exactly one DIRECTOR_INDEX frame: it
// reads one page starting at the client-supplied offset and finishes
// immediately. The client resends at the next offset as a new frame
// (after disposing this one), so this type never loops internally.
type WorkerDirectorIndexRequest struct {
	*Base

	source     IndexSource
	offset     int64
	maxBytes   int64
	data       []byte
	totalBytes int64
}

func NewWorkerDirectorIndexRequest(id string, priority wireproto.Priority, source IndexSource, offset, maxBytes int64) *WorkerDirectorIndexRequest {
	r := &WorkerDirectorIndexRequest{source: source, offset: offset, maxBytes: maxBytes}
	r.Base = NewBase(id, "DIRECTOR_INDEX", priority, Hooks{Execute: r.execute})
	return r
}

func (r *WorkerDirectorIndexRequest) Data() []byte       { return r.data }
func (r *WorkerDirectorIndexRequest) TotalBytes() int64  { return r.totalBytes }

func (r *WorkerDirectorIndexRequest) execute(b *Base) (bool, wireproto.Status, error) {
	data, total, err := r.source.ReadAt(r.offset, r.maxBytes)
	if err != nil {
		return false, "", err
	}
	r.data = data
	r.totalBytes = total
	return true, wireproto.StatusSuccess, nil
}
