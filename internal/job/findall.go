package job

import (
	"sync"

	"github.com/lsst/qserv-sub024/internal/replica"
	"github.com/lsst/qserv-sub024/internal/request"
	"go.uber.org/zap"
)

// FindAllJob is FixUpJob's precursor (referenced but not separately
// specified by spec.md section 4.4): it fans out one FindAllRequest per
// worker and aggregates the resulting ReplicaInfo collections into a
// single census snapshot.
type FindAllJob struct {
	*Base

	workers    []string
	saveInfo   bool
	findAllNew FindAllFactory

	mu       sync.Mutex
	running  map[string]*request.FindAllRequest
	finished int
	results  []replica.Info
	anyFailed bool
}

// Persistence of the census (when saveReplicaInfo is set) is the
// responsibility of each FindAllRequest returned by findAllNew; callers
// bake a request.PersistFunc into that factory closure rather than
// passing one here.
func NewFindAllJob(id, parentJobID string, workers []string, saveReplicaInfo bool, findAllNew FindAllFactory, log *zap.Logger) *FindAllJob {
	j := &FindAllJob{
		workers: workers, saveInfo: saveReplicaInfo, findAllNew: findAllNew,
		running: make(map[string]*request.FindAllRequest),
	}
	j.Base = NewBase(id, "FIND_ALL_JOB", parentJobID, Options{}, 0, 0, nil, log, Hooks{
		StartImpl:  j.startImpl,
		CancelImpl: j.cancelImpl,
	})
	return j
}

func (j *FindAllJob) startImpl(b *Base) {
	if len(j.workers) == 0 {
		go j.Finish(ExtSuccess)
		return
	}
	for _, w := range j.workers {
		r := j.findAllNew(w)
		j.mu.Lock()
		j.running[r.ID()] = r
		j.mu.Unlock()
		r.OnFinish(j.onChildFinished)
		go r.Start(j.id, 0)
	}
}

func (j *FindAllJob) onChildFinished(rb *request.Base) {
	j.mu.Lock()
	r, ok := j.running[rb.ID()]
	delete(j.running, rb.ID())
	j.finished++
	if ok && rb.ExtendedState() == request.ExtSuccess {
		j.results = append(j.results, r.Result...)
	} else {
		j.anyFailed = true
	}
	done := j.finished == len(j.workers)
	anyFailed := j.anyFailed
	j.mu.Unlock()

	if done {
		if anyFailed {
			j.Finish(ExtFailed)
		} else {
			j.Finish(ExtSuccess)
		}
	}
}

func (j *FindAllJob) cancelImpl(b *Base) {
	j.mu.Lock()
	running := make([]*request.FindAllRequest, 0, len(j.running))
	for _, r := range j.running {
		running = append(running, r)
	}
	j.mu.Unlock()
	for _, r := range running {
		r.Cancel()
	}
}

// Results returns the aggregated replica census; meaningful once the job
// has finished SUCCESS.
func (j *FindAllJob) Results() []replica.Info {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]replica.Info, len(j.results))
	copy(out, j.results)
	return out
}
