package workerproc

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/lsst/qserv-sub024/internal/wireproto"
	"go.uber.org/zap"
)

// Processor is the per-worker WorkerProcessor: a priority queue of
// pending WorkerRequests, an in-progress set, a finished set (retained
// long enough for REQUEST_STATUS tracking frames to observe the terminal
// result), and a fixed pool of worker goroutines.
type Processor struct {
	mu         sync.Mutex
	cond       *sync.Cond
	pending    priorityQueue
	inProgress map[string]*Base
	finished   map[string]*Base
	nextSeq    int64
	stopped    bool

	numThreads int
	log        *zap.Logger
}

// New constructs a Processor and starts numThreads worker goroutines.
// numThreads is worker.num-svc-processing-threads.
func New(numThreads int, log *zap.Logger) *Processor {
	p := &Processor{
		inProgress: make(map[string]*Base),
		finished:   make(map[string]*Base),
		numThreads: numThreads,
		log:        log,
	}
	p.cond = sync.NewCond(&p.mu)
	heap.Init(&p.pending)
	for i := 0; i < numThreads; i++ {
		go p.workerLoop()
	}
	return p
}

// Submit queues req, arming its expiration timer if expirationIvalSec>0.
func (p *Processor) Submit(req *Base, expirationIvalSec int) {
	req.init(expirationIvalSec, p.onExpire)
	p.mu.Lock()
	req.seq = p.nextSeq
	p.nextSeq++
	heap.Push(&p.pending, req)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *Processor) onExpire(req *Base) {
	req.finish(wireproto.StatusBad)
	p.moveToFinishedIfInProgress(req)
}

func (p *Processor) workerLoop() {
	for {
		req := p.dequeue()
		if req == nil {
			return // Stop was called
		}
		req.start()
		p.mu.Lock()
		p.inProgress[req.id] = req
		p.mu.Unlock()

		for {
			done := req.step()
			if done {
				break
			}
		}

		p.moveToFinishedIfInProgress(req)
	}
}

func (p *Processor) moveToFinishedIfInProgress(req *Base) {
	p.mu.Lock()
	if _, ok := p.inProgress[req.id]; ok {
		delete(p.inProgress, req.id)
		p.finished[req.id] = req
	}
	p.mu.Unlock()
}

func (p *Processor) dequeue() *Base {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending.Len() == 0 {
		if p.stopped {
			return nil
		}
		p.cond.Wait()
	}
	return heap.Pop(&p.pending).(*Base)
}

// Stop wakes every idle worker goroutine so it can exit once its current
// request (if any) finishes. In-flight requests are not interrupted;
// callers that need a clean shutdown should Cancel them first.
func (p *Processor) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Lookup finds a request by id, wherever it currently lives (pending,
// in-progress, or finished), for REQUEST_STATUS tracking frames.
func (p *Processor) Lookup(id string) (*Base, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.pending {
		if r.id == id {
			return r, true
		}
	}
	if r, ok := p.inProgress[id]; ok {
		return r, true
	}
	if r, ok := p.finished[id]; ok {
		return r, true
	}
	return nil, false
}

// Cancel implements the upstream side of the cancel() contract: find the
// request wherever it lives and call its cancel() transition. A request
// still in the pending queue is removed and finished CANCELLED
// immediately, since no worker thread is executing it to observe
// IS_CANCELLING.
func (p *Processor) Cancel(id string) error {
	p.mu.Lock()
	for i, r := range p.pending {
		if r.id == id {
			heap.Remove(&p.pending, i)
			p.mu.Unlock()
			r.finish(wireproto.StatusCancelled)
			p.mu.Lock()
			p.finished[id] = r
			p.mu.Unlock()
			return nil
		}
	}
	if r, ok := p.inProgress[id]; ok {
		p.mu.Unlock()
		return r.cancel()
	}
	if r, ok := p.finished[id]; ok {
		p.mu.Unlock()
		return r.cancel() // idempotent no-op or ErrBadTransition
	}
	p.mu.Unlock()
	return fmt.Errorf("workerproc: unknown request %s", id)
}

// Dispose removes a finished request from the finished set, releasing
// any resources its OnFinish hook did not already release (the DISPOSE
// management frame's contract).
func (p *Processor) Dispose(id string) {
	p.mu.Lock()
	delete(p.finished, id)
	p.mu.Unlock()
}
