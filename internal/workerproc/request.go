// Package workerproc implements the worker-side request handling from
// section 4.5 of the design: WorkerProcessor's priority queue, in-progress
// and finished sets, and fixed thread pool, dispatching to WorkerRequest
// implementations (find/replicate/delete/sql/director-index). Grounded on
// the teacher's worker-pool dispatch loop (internal/worker), generalized
// from "dequeue one job, run one handler func" to a priority-ordered
// queue of typed, resumable operations with their own cancel/rollback
// state machine.
package workerproc

import (
	"fmt"
	"sync"
	"time"

	"github.com/lsst/qserv-sub024/internal/wireproto"
)

// State is the four coarse states a WorkerRequest passes through.
type State int

const (
	StateCreated State = iota
	StateInProgress
	StateIsCancelling
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateInProgress:
		return "IN_PROGRESS"
	case StateIsCancelling:
		return "IS_CANCELLING"
	case StateFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// ErrCancelled is the explicit result rollback() returns when unwinding a
// request out of IS_CANCELLING, replacing the original's
// WorkerRequestCancelled exception per the design's redesign flag against
// exceptions used for control flow.
var ErrCancelled = fmt.Errorf("workerproc: request cancelled")

// ErrBadTransition is returned by cancel()/rollback() calls made from a
// state the contract does not permit.
type ErrBadTransition struct {
	Op   string
	From State
}

func (e *ErrBadTransition) Error() string {
	return fmt.Sprintf("workerproc: %s not permitted from state %s", e.Op, e.From)
}

// Hooks are the subclass-supplied behaviors.
type Hooks struct {
	// Execute runs one step of the operation; returns done=true once the
	// operation has reached a terminal outcome (ext is then the final
	// extended status), or done=false to be called again (streaming
	// operations). An error is an unrecoverable failure (ext defaults to
	// FAILED).
	Execute func(b *Base) (done bool, ext wireproto.Status, err error)
	// OnFinish runs once, right before the request is moved to the
	// finished set.
	OnFinish func(b *Base, ext wireproto.Status)
}

// Base is the shared WorkerRequest state machine.
type Base struct {
	mu sync.Mutex

	id         string
	queuedType string
	priority   wireproto.Priority
	seq        int64 // insertion sequence, for stable priority ordering

	state  State
	ext    wireproto.Status
	err    error
	hooks  Hooks

	perf wireproto.Performance

	expireTimer *time.Timer
	onExpire    func(b *Base)

	onFinishExternal func(b *Base)
}

// SetOnFinish registers a callback invoked once finish() has applied the
// subclass's own Hooks.OnFinish; used by the connection handler to send
// the response frame once a request reaches a terminal state.
func (b *Base) SetOnFinish(fn func(b *Base)) {
	b.mu.Lock()
	b.onFinishExternal = fn
	b.mu.Unlock()
}

// NewBase constructs an un-started WorkerRequest in state CREATED.
func NewBase(id, queuedType string, priority wireproto.Priority, hooks Hooks) *Base {
	return &Base{id: id, queuedType: queuedType, priority: priority, state: StateCreated, hooks: hooks}
}

func (b *Base) ID() string                  { return b.id }
func (b *Base) QueuedType() string          { return b.queuedType }
func (b *Base) Priority() wireproto.Priority { return b.priority }

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Base) ExtendedStatus() wireproto.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ext
}

func (b *Base) Performance() wireproto.Performance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.perf
}

// init arms the expiration timer (if ivalSec>0) and records CreateTime.
// Called by WorkerProcessor before the request is queued.
func (b *Base) init(ivalSec int, onExpire func(b *Base)) {
	b.mu.Lock()
	b.perf.CreateTimeMs = nowMs()
	b.onExpire = onExpire
	if ivalSec > 0 {
		b.expireTimer = time.AfterFunc(time.Duration(ivalSec)*time.Second, b.fireExpire)
	}
	b.mu.Unlock()
}

func (b *Base) fireExpire() {
	b.mu.Lock()
	if b.state == StateFinished {
		b.mu.Unlock()
		return
	}
	onExpire := b.onExpire
	b.mu.Unlock()
	if onExpire != nil {
		onExpire(b)
	}
}

// start transitions CREATED -> IN_PROGRESS; called by the processor's
// worker thread right before its first Execute call.
func (b *Base) start() {
	b.mu.Lock()
	if b.state == StateCreated {
		b.state = StateInProgress
		b.perf.StartTimeMs = nowMs()
	}
	b.mu.Unlock()
}

// step invokes Execute once and applies its result, returning whether the
// request is now finished.
func (b *Base) step() bool {
	done, ext, err := b.hooks.Execute(b)
	if err != nil {
		b.finish(wireproto.StatusFailed)
		return true
	}
	if done {
		b.finish(ext)
		return true
	}
	b.mu.Lock()
	cancelling := b.state == StateIsCancelling
	b.mu.Unlock()
	if cancelling {
		b.finish(wireproto.StatusCancelled)
		return true
	}
	return false
}

func (b *Base) finish(ext wireproto.Status) {
	b.mu.Lock()
	if b.state == StateFinished {
		b.mu.Unlock()
		return
	}
	b.state = StateFinished
	b.ext = ext
	b.perf.FinishTimeMs = nowMs()
	if b.expireTimer != nil {
		b.expireTimer.Stop()
	}
	hooks := b.hooks
	onFinishExternal := b.onFinishExternal
	b.mu.Unlock()
	if hooks.OnFinish != nil {
		hooks.OnFinish(b, ext)
	}
	if onFinishExternal != nil {
		onFinishExternal(b)
	}
}

// cancel implements the cancel() contract from section 4.5: from CREATED
// or CANCELLED, go to CANCELLED (here: FINISHED/CANCELLED, since this
// model folds the terminal CANCELLED value into FINISHED+ext rather than
// a separate coarse state); from IN_PROGRESS or IS_CANCELLING, go to
// IS_CANCELLING so the executing step observes it at its next checkpoint.
func (b *Base) cancel() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateCreated:
		b.state = StateFinished
		b.ext = wireproto.StatusCancelled
		b.perf.FinishTimeMs = nowMs()
		return nil
	case StateFinished:
		if b.ext == wireproto.StatusCancelled {
			return nil
		}
		return &ErrBadTransition{Op: "cancel", From: b.state}
	case StateInProgress, StateIsCancelling:
		b.state = StateIsCancelling
		return nil
	default:
		return &ErrBadTransition{Op: "cancel", From: b.state}
	}
}

// rollback implements the rollback() contract: from CREATED or
// IN_PROGRESS, return to CREATED (the request is re-queued, e.g. after
// preemption); from IS_CANCELLING, finish CANCELLED and return
// ErrCancelled so the caller's loop stops calling Execute.
func (b *Base) rollback() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateCreated, StateInProgress:
		b.state = StateCreated
		return nil
	case StateIsCancelling:
		b.state = StateFinished
		b.ext = wireproto.StatusCancelled
		b.perf.FinishTimeMs = nowMs()
		return ErrCancelled
	default:
		return &ErrBadTransition{Op: "rollback", From: b.state}
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }
