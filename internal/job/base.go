// Package job implements the Job state machine from section 4.4 of the
// design: CREATED -> IN_PROGRESS -> FINISHED, owning a collection of
// child Requests keyed by request id. FixUpJob, FindAllJob, and PurgeJob
// are concrete Jobs composing Base the same way the request package's
// concrete types compose request.Base.
package job

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State int

const (
	StateCreated State = iota
	StateInProgress
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateInProgress:
		return "IN_PROGRESS"
	case StateFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// ExtendedState is the Job's terminal detail, latched once at FINISHED.
type ExtendedState string

const (
	ExtNone        ExtendedState = "NONE"
	ExtSuccess     ExtendedState = "SUCCESS"
	ExtFailed      ExtendedState = "FAILED"
	ExtQservFailed ExtendedState = "QSERV_FAILED"
	ExtQservInUse  ExtendedState = "QSERV_IN_USE"
	ExtExpired     ExtendedState = "EXPIRED"
	ExtCancelled   ExtendedState = "CANCELLED"
)

// Options are the per-Job scheduling options from spec.md's Job
// attributes: {priority, exclusive, preemptable}.
type Options struct {
	Priority    int
	Exclusive   bool
	Preemptable bool
}

// Registry is the Controller's active-job bookkeeping.
type Registry interface {
	AddJob(id string, j *Base)
	RemoveJob(id string)
}

// Cancellable is satisfied by any in-flight child (a *request.Base, or
// another *job.Base) a Job needs to tear down on its own cancellation.
type Cancellable interface {
	Cancel()
}

// Hooks are the subclass-supplied behaviors.
type Hooks struct {
	// StartImpl launches the job's work (its precursor and/or first batch
	// of children). Called with the lock held; must not block.
	StartImpl func(j *Base)
	// CancelImpl cancels the job's own running children; Base.Cancel has
	// already latched CANCELLED before this runs.
	CancelImpl func(j *Base)
}

// Base is the shared Job state machine.
type Base struct {
	mu sync.Mutex

	id            string
	typ           string
	parentJobID   string
	options       Options
	state         State
	extState      ExtendedState
	heartbeatIval time.Duration
	expireIval    time.Duration
	expireTimer   *time.Timer

	registry Registry
	log      *zap.Logger
	hooks    Hooks

	onFinish func(*Base)
	waiters  []chan struct{}
}

func NewBase(id, typ, parentJobID string, options Options, heartbeatIval, expireIval time.Duration, registry Registry, log *zap.Logger, hooks Hooks) *Base {
	return &Base{
		id: id, typ: typ, parentJobID: parentJobID, options: options,
		state: StateCreated, extState: ExtNone,
		heartbeatIval: heartbeatIval, expireIval: expireIval,
		registry: registry, log: log, hooks: hooks,
	}
}

func (j *Base) ID() string   { return j.id }
func (j *Base) Type() string { return j.typ }

func (j *Base) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Base) ExtendedState() ExtendedState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.extState
}

func (j *Base) OnFinish(fn func(*Base)) {
	j.mu.Lock()
	j.onFinish = fn
	j.mu.Unlock()
}

func (j *Base) Wait() {
	j.mu.Lock()
	if j.state == StateFinished {
		j.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	j.waiters = append(j.waiters, ch)
	j.mu.Unlock()
	<-ch
}

// Start asserts CREATED, transitions to IN_PROGRESS, registers with the
// Controller, arms the expiration timer (if configured), and invokes the
// subclass startImpl to kick off the precursor/first batch of children.
func (j *Base) Start() error {
	j.mu.Lock()
	if j.state != StateCreated {
		j.mu.Unlock()
		return fmt.Errorf("job %s: Start called in state %s, want CREATED", j.id, j.state)
	}
	j.state = StateInProgress
	if j.expireIval > 0 {
		j.expireTimer = time.AfterFunc(j.expireIval, j.onExpire)
	}
	registry := j.registry
	j.mu.Unlock()

	if registry != nil {
		registry.AddJob(j.id, j)
	}

	j.mu.Lock()
	j.hooks.StartImpl(j)
	j.mu.Unlock()
	return nil
}

func (j *Base) onExpire() {
	j.mu.Lock()
	if j.state == StateFinished {
		j.mu.Unlock()
		return
	}
	j.mu.Unlock()
	j.Finish(ExtExpired)
}

// Cancel cancels the precursor and every currently running child (via
// CancelImpl) and finishes the Job CANCELLED. Idempotent.
func (j *Base) Cancel() {
	j.mu.Lock()
	if j.state == StateFinished {
		j.mu.Unlock()
		return
	}
	j.mu.Unlock()
	j.Finish(ExtCancelled)
	if j.hooks.CancelImpl != nil {
		j.hooks.CancelImpl(j)
	}
}

// Finish latches the terminal state, stops timers, unregisters from the
// Controller, and notifies. Safe to call more than once; only the first
// call has effect.
func (j *Base) Finish(ext ExtendedState) {
	j.mu.Lock()
	if j.state == StateFinished {
		j.mu.Unlock()
		return
	}
	j.state = StateFinished
	j.extState = ext
	if j.expireTimer != nil {
		j.expireTimer.Stop()
	}
	registry := j.registry
	onFinish := j.onFinish
	waiters := j.waiters
	j.waiters = nil
	j.mu.Unlock()

	if registry != nil {
		registry.RemoveJob(j.id)
	}
	for _, ch := range waiters {
		close(ch)
	}
	if onFinish != nil {
		onFinish(j)
	}
}

// Lock/Unlock let subclasses that need to mutate their own fields
// alongside Base's under one critical section reuse Base's mutex.
func (j *Base) Lock()   { j.mu.Lock() }
func (j *Base) Unlock() { j.mu.Unlock() }
