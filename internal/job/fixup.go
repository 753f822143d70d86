package job

import (
	"sync"

	"github.com/lsst/qserv-sub024/internal/replica"
	"github.com/lsst/qserv-sub024/internal/request"
	"go.uber.org/zap"
)

// ReplicationTask is one unit of fix-up work: replicate (database, chunk)
// from source to destination.
type ReplicationTask struct {
	Source, Destination, Database string
	Chunk                         uint32
}

// ReplicationFactory builds and does not yet start a ReplicationRequest
// for one task; FixUpJob calls Start itself so it can register an
// OnFinish callback first.
type ReplicationFactory func(task ReplicationTask) *request.ReplicationRequest

// FindAllFactory builds and does not yet start a FindAllRequest for one
// worker.
type FindAllFactory func(worker string) *request.FindAllRequest

// FixUpJob restores chunk co-location in a database family, per
// spec.md section 4.4's five-step algorithm.
type FixUpJob struct {
	*Base

	Family               []string // databases that must be co-located per chunk
	Workers              []string
	NumSvcProcessingThreads int

	findAll        *FindAllJob
	replicationNew ReplicationFactory
	findAllNew     FindAllFactory

	mu              sync.Mutex
	pending         map[string][]ReplicationTask // by destination worker
	running         map[string]*request.ReplicationRequest
	launched, finished int
	failedWorkers   map[string]int
	unreplicable    bool
	results         []replica.Info
}

func NewFixUpJob(id, parentJobID string, family, workers []string, numSvcProcessingThreads int, replicationNew ReplicationFactory, findAllNew FindAllFactory, registry Registry, log *zap.Logger) *FixUpJob {
	j := &FixUpJob{
		Family: family, Workers: workers, NumSvcProcessingThreads: numSvcProcessingThreads,
		replicationNew: replicationNew, findAllNew: findAllNew,
		pending: make(map[string][]ReplicationTask), running: make(map[string]*request.ReplicationRequest),
		failedWorkers: make(map[string]int),
	}
	j.Base = NewBase(id, "FIX_UP", parentJobID, Options{}, 0, 0, registry, log, Hooks{
		StartImpl:  j.startImpl,
		CancelImpl: j.cancelImpl,
	})
	return j
}

func (j *FixUpJob) startImpl(b *Base) {
	j.findAll = NewFindAllJob(j.id+"-find-all", j.id, j.Workers, true, j.findAllNew, b.log)
	j.findAll.OnFinish(j.onFindAllFinished)
	go j.findAll.Start()
}

// onFindAllFinished implements steps 2-4: build the replication plan from
// the census, fail fast if a chunk is unreplicable, then launch the
// initial capped batch per destination worker.
func (j *FixUpJob) onFindAllFinished(fb *Base) {
	if fb.ExtendedState() != ExtSuccess {
		j.Finish(ExtFailed)
		return
	}
	disp := replica.NewDisposition(j.findAll.Results())

	j.mu.Lock()
	for _, c := range disp.Chunks() {
		for _, w := range j.Workers {
			if disp.IsColocated(c, w, j.Family) {
				continue
			}
			for _, d := range j.Family {
				workers := disp.WorkersWithCompleteReplica(d, c)
				alreadyHas := false
				for _, hw := range workers {
					if hw == w {
						alreadyHas = true
						break
					}
				}
				if alreadyHas {
					continue
				}
				if len(workers) == 0 {
					j.unreplicable = true
					continue
				}
				src := workers[0]
				j.pending[w] = append(j.pending[w], ReplicationTask{Source: src, Destination: w, Database: d, Chunk: c})
			}
		}
	}
	unreplicable := j.unreplicable
	j.mu.Unlock()

	if unreplicable {
		j.Finish(ExtFailed)
		return
	}

	j.mu.Lock()
	for w := range j.pending {
		j.launchUpToLocked(w)
	}
	noPending := len(j.pending) == 0 && j.launched == 0
	j.mu.Unlock()

	if noPending {
		j.Finish(ExtSuccess) // nothing needed replication
	}
}

// launchUpToLocked starts replication requests for worker w until either
// its pending queue is drained or NumSvcProcessingThreads are already
// running for w. Caller holds j.mu.
func (j *FixUpJob) launchUpToLocked(w string) {
	inFlight := 0
	for _, r := range j.running {
		if r.WorkerTo == w {
			inFlight++
		}
	}
	for inFlight < j.NumSvcProcessingThreads && len(j.pending[w]) > 0 {
		task := j.pending[w][0]
		j.pending[w] = j.pending[w][1:]
		r := j.replicationNew(task)
		j.running[r.ID()] = r
		j.launched++
		inFlight++
		r.OnFinish(j.onChildFinished)
		go r.Start(j.id, 0)
	}
}

// onChildFinished implements step 5.
func (j *FixUpJob) onChildFinished(rb *request.Base) {
	j.mu.Lock()
	r := j.running[rb.ID()]
	delete(j.running, rb.ID())
	j.finished++
	if rb.ExtendedState() == request.ExtSuccess {
		j.results = append(j.results, r.Result)
	} else {
		j.failedWorkers[r.WorkerTo]++
	}
	if r != nil {
		j.launchUpToLocked(r.WorkerTo)
	}
	done := j.launched == j.finished && allPendingDrainedLocked(j.pending)
	anyFailed := len(j.failedWorkers) > 0
	j.mu.Unlock()

	if done {
		if anyFailed {
			j.Finish(ExtFailed)
		} else {
			j.Finish(ExtSuccess)
		}
	}
}

func allPendingDrainedLocked(pending map[string][]ReplicationTask) bool {
	for _, q := range pending {
		if len(q) > 0 {
			return false
		}
	}
	return true
}

func (j *FixUpJob) cancelImpl(b *Base) {
	if j.findAll != nil {
		j.findAll.Cancel()
	}
	j.mu.Lock()
	running := make([]*request.ReplicationRequest, 0, len(j.running))
	for _, r := range j.running {
		running = append(running, r)
	}
	j.mu.Unlock()
	for _, r := range running {
		r.Cancel()
	}
}

// Results returns the ReplicaInfo records for every child that succeeded.
func (j *FixUpJob) Results() []replica.Info {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]replica.Info, len(j.results))
	copy(out, j.results)
	return out
}

// FailedWorkers returns the per-destination-worker failure counts
// recorded by step 5, suitable for a "failed-worker" log entry.
func (j *FixUpJob) FailedWorkers() map[string]int {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]int, len(j.failedWorkers))
	for k, v := range j.failedWorkers {
		out[k] = v
	}
	return out
}
