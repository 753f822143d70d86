package job

import (
	"sync"

	"github.com/lsst/qserv-sub024/internal/request"
	"go.uber.org/zap"
)

// PurgeTask identifies one excess replica to delete: a (worker, database,
// chunk) triple beyond the family's configured replication factor.
type PurgeTask struct {
	Worker, Database string
	Chunk            uint32
}

// DeleteFactory builds and does not yet start a DeleteRequest for one task.
type DeleteFactory func(task PurgeTask) *request.DeleteRequest

// PurgeJob issues DeleteRequests for replicas beyond a database family's
// configured replication factor (an original_source feature the spec.md
// distillation dropped; see SPEC_FULL.md section 4.4). It reuses
// FixUpJob's launch/replacement bookkeeping shape: a flat work queue
// drained at a fixed concurrency, one replacement launched per
// completion.
type PurgeJob struct {
	*Base

	tasks       []PurgeTask
	concurrency int
	deleteNew   DeleteFactory

	mu       sync.Mutex
	next     int
	running  map[string]*request.DeleteRequest
	finished int
	failed   int
}

func NewPurgeJob(id, parentJobID string, tasks []PurgeTask, concurrency int, deleteNew DeleteFactory, registry Registry, log *zap.Logger) *PurgeJob {
	j := &PurgeJob{
		tasks: tasks, concurrency: concurrency, deleteNew: deleteNew,
		running: make(map[string]*request.DeleteRequest),
	}
	j.Base = NewBase(id, "PURGE", parentJobID, Options{}, 0, 0, registry, log, Hooks{
		StartImpl:  j.startImpl,
		CancelImpl: j.cancelImpl,
	})
	return j
}

func (j *PurgeJob) startImpl(b *Base) {
	if len(j.tasks) == 0 {
		go j.Finish(ExtSuccess)
		return
	}
	j.mu.Lock()
	j.launchUpToLocked()
	j.mu.Unlock()
}

// launchUpToLocked tops up the running set from the flat task queue up to
// the configured concurrency. Caller holds j.mu.
func (j *PurgeJob) launchUpToLocked() {
	for len(j.running) < j.concurrency && j.next < len(j.tasks) {
		task := j.tasks[j.next]
		j.next++
		r := j.deleteNew(task)
		j.running[r.ID()] = r
		r.OnFinish(j.onChildFinished)
		go r.Start(j.id, 0)
	}
}

func (j *PurgeJob) onChildFinished(rb *request.Base) {
	j.mu.Lock()
	delete(j.running, rb.ID())
	j.finished++
	if rb.ExtendedState() != request.ExtSuccess {
		j.failed++
	}
	j.launchUpToLocked()
	done := j.next >= len(j.tasks) && len(j.running) == 0
	failed := j.failed
	j.mu.Unlock()

	if done {
		if failed > 0 {
			j.Finish(ExtFailed)
		} else {
			j.Finish(ExtSuccess)
		}
	}
}

func (j *PurgeJob) cancelImpl(b *Base) {
	j.mu.Lock()
	running := make([]*request.DeleteRequest, 0, len(j.running))
	for _, r := range j.running {
		running = append(running, r)
	}
	j.mu.Unlock()
	for _, r := range running {
		r.Cancel()
	}
}
