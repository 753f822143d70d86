// Package request implements the Request state machine described in
// section 4.3 of the design: a single client-side object tracking one
// worker-bound operation from CREATED through IN_PROGRESS to a latched
// FINISHED state, driven by Messenger responses and a pair of timers
// (retry/tracking and expiration). Concrete operations (ReplicationRequest,
// FindRequest, SqlRequest, ...) compose Base and supply the Hooks that
// serialize their wire body and interpret a SUCCESS payload.
package request

import (
	"fmt"
	"sync"
	"time"

	"github.com/lsst/qserv-sub024/internal/messenger"
	"github.com/lsst/qserv-sub024/internal/wireproto"
	"go.uber.org/zap"
)

// State is the three coarse states every Request passes through.
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

// ExtendedState is the terminal-state detail latched exactly once, at
// FINISHED. The four SERVER_* tracking values are also valid terminal
// values: a Request started with keepTracking=false finishes immediately
// on the first non-terminal worker status instead of arming a retry timer.
type ExtendedState string

const (
	ExtNone                ExtendedState = "NONE"
	ExtSuccess             ExtendedState = "SUCCESS"
	ExtClientError         ExtendedState = "CLIENT_ERROR"
	ExtServerBad           ExtendedState = "SERVER_BAD"
	ExtServerError         ExtendedState = "SERVER_ERROR"
	ExtServerCreated       ExtendedState = "SERVER_CREATED"
	ExtServerQueued        ExtendedState = "SERVER_QUEUED"
	ExtServerInProgress    ExtendedState = "SERVER_IN_PROGRESS"
	ExtServerIsCancelling  ExtendedState = "SERVER_IS_CANCELLING"
	ExtServerCancelled     ExtendedState = "SERVER_CANCELLED"
	ExtTimeoutExpired      ExtendedState = "TIMEOUT_EXPIRED"
	ExtCancelled           ExtendedState = "CANCELLED"
)

// retryCapMultiplier expresses "capped at 1 s x configured interval" from
// section 4.3: the doubling retry delay saturates at this many multiples
// of the configured base interval.
const retryCapMultiplier = 60

// Performance is the create/start/finish timestamp triple, milliseconds
// since epoch.
type Performance struct {
	CreateTimeMs int64
	StartTimeMs  int64
	FinishTimeMs int64
}

func fromWire(p wireproto.Performance) Performance {
	return Performance{CreateTimeMs: p.CreateTimeMs, StartTimeMs: p.StartTimeMs, FinishTimeMs: p.FinishTimeMs}
}

// Registry is the subset of Controller's bookkeeping a Request needs:
// register itself on start, unregister on finish. Both must be safe to
// call under the request's own lock.
type Registry interface {
	AddRequest(id string, r *Base)
	RemoveRequest(id string)
}

// Hooks are the subclass-supplied behaviors Base cannot implement itself.
type Hooks struct {
	// StartImpl serializes the request-specific body and returns the
	// RequestHeader/body pair for the initial send. Called with the
	// request's lock held.
	StartImpl func(b *Base) (wireproto.RequestHeader, interface{})

	// TrackImpl builds the tracking ("REQUEST_STATUS"/"REQUEST_TRACK")
	// frame sent by awaken(). Called with the lock held.
	TrackImpl func(b *Base) (wireproto.RequestHeader, interface{})

	// HandleSuccess processes a SUCCESS response body. It returns
	// terminal=true when the operation is complete (finish with SUCCESS
	// follows), or false for a streaming request that has already armed
	// its next frame itself (director-index extraction). Called without
	// the lock held so it may call back into Base (Send, etc.).
	HandleSuccess func(b *Base, hdr wireproto.ResponseHeader, body []byte) (terminal bool, err error)

	// FinishImpl runs once, under the lock, right before finish()
	// unregisters and notifies. May be nil.
	FinishImpl func(b *Base, ext ExtendedState)
}

// Base is the shared Request state machine; concrete request types embed
// it and supply Hooks plus their own typed parameters/result.
type Base struct {
	mu sync.Mutex

	id           string
	typ          string
	targetWorker string
	priority     wireproto.Priority
	keepTracking bool
	disposeRequired bool

	state        State
	extState     ExtendedState
	serverStatus wireproto.Status
	perf         Performance

	parentJobID string
	workerDupID string

	conn      *messenger.Connection
	retryBase time.Duration
	retryAttempt int
	retryTimer   *time.Timer
	expireTimer  *time.Timer

	hooks    Hooks
	registry Registry
	log      *zap.Logger

	onFinish func(*Base)
	waiters  []chan struct{}
}

// NewBase constructs an un-started Request in state CREATED.
func NewBase(id, typ, targetWorker string, priority wireproto.Priority, keepTracking, disposeRequired bool, conn *messenger.Connection, retryBase time.Duration, registry Registry, log *zap.Logger, hooks Hooks) *Base {
	return &Base{
		id:              id,
		typ:             typ,
		targetWorker:    targetWorker,
		priority:        priority,
		keepTracking:    keepTracking,
		disposeRequired: disposeRequired,
		state:           StateCreated,
		extState:        ExtNone,
		conn:            conn,
		retryBase:       retryBase,
		registry:        registry,
		log:             log,
		hooks:           hooks,
	}
}

func (b *Base) ID() string                  { return b.id }
func (b *Base) Type() string                 { return b.typ }
func (b *Base) TargetWorker() string         { return b.targetWorker }
func (b *Base) Priority() wireproto.Priority { return b.priority }

// State returns the current coarse state under lock.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ExtendedState returns the latched extended state (ExtNone until finished).
func (b *Base) ExtendedState() ExtendedState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.extState
}

// Performance returns a snapshot of the timestamp triple.
func (b *Base) Performance() Performance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.perf
}

// OnFinish registers a callback invoked exactly once, after finish has
// latched the extended state and unregistered from the Controller.
func (b *Base) OnFinish(fn func(*Base)) {
	b.mu.Lock()
	b.onFinish = fn
	b.mu.Unlock()
}

// Wait blocks until the request reaches FINISHED.
func (b *Base) Wait() {
	b.mu.Lock()
	if b.state == StateFinished {
		b.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	b.waiters = append(b.waiters, ch)
	b.mu.Unlock()
	<-ch
}

// Start asserts CREATED, records the begin timestamp, invokes the
// subclass's startImpl to build and send the initial frame, transitions
// to IN_PROGRESS, and registers with the Controller. jobID may be empty
// for requests with no parent Job. expirationIvalSec<=0 arms no
// expiration timer.
func (b *Base) Start(jobID string, expirationIvalSec int) error {
	b.mu.Lock()
	if b.state != StateCreated {
		b.mu.Unlock()
		return fmt.Errorf("request %s: Start called in state %s, want CREATED", b.id, b.state)
	}
	b.parentJobID = jobID
	b.perf.CreateTimeMs = nowMs()
	b.perf.StartTimeMs = b.perf.CreateTimeMs

	hdr, body := b.hooks.StartImpl(b)
	conn := b.conn
	b.state = StateInProgress
	if expirationIvalSec > 0 {
		b.expireTimer = time.AfterFunc(time.Duration(expirationIvalSec)*time.Second, b.onExpire)
	}
	registry := b.registry
	b.mu.Unlock()

	if registry != nil {
		registry.AddRequest(b.id, b)
	}
	if err := conn.Send(hdr, body, b.onResponse); err != nil {
		b.finish(ExtClientError)
		return err
	}
	return nil
}

// onExpire is the expiration timer callback (contract of expired(ec)).
func (b *Base) onExpire() {
	b.mu.Lock()
	if b.state == StateFinished {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.finish(ExtTimeoutExpired)
}

// awaken is the retry-timer callback: if not finished, sends a tracking
// frame. The timer itself is single-shot so there is no separate "was it
// aborted" flag to check beyond the FINISHED test, since finish() always
// stops the timer before it can fire again.
func (b *Base) awaken() {
	b.mu.Lock()
	if b.state == StateFinished {
		b.mu.Unlock()
		return
	}
	hdr, body := b.hooks.TrackImpl(b)
	conn := b.conn
	b.mu.Unlock()
	if err := conn.Send(hdr, body, b.onResponse); err != nil {
		b.finish(ExtClientError)
	}
}

// armRetryTimer schedules awaken() at nextTimeIvalMsec(): starts at
// retryBase, doubles each call, caps at retryCapMultiplier*retryBase.
func (b *Base) armRetryTimer() {
	b.retryAttempt++
	d := b.retryBase
	for i := 1; i < b.retryAttempt; i++ {
		d *= 2
		if d >= b.retryBase*retryCapMultiplier {
			d = b.retryBase * retryCapMultiplier
			break
		}
	}
	if d > b.retryBase*retryCapMultiplier {
		d = b.retryBase * retryCapMultiplier
	}
	b.retryTimer = time.AfterFunc(d, b.awaken)
}

// onResponse is the Messenger ResponseFunc registered for every frame
// this request sends; it implements the "response handler" contract.
func (b *Base) onResponse(hdr wireproto.ResponseHeader, body []byte) {
	b.mu.Lock()
	if b.state == StateFinished {
		b.mu.Unlock()
		return
	}
	if hdr.Status == wireproto.StatusBad && hdr.StatusExt == "CLIENT_ERROR" {
		b.mu.Unlock()
		b.finish(ExtClientError)
		return
	}

	b.serverStatus = hdr.Status
	if hdr.TargetPerformance != nil {
		b.perf = fromWire(*hdr.TargetPerformance)
	} else {
		b.perf = fromWire(hdr.Performance)
	}

	switch hdr.Status {
	case wireproto.StatusSuccess:
		hooks := b.hooks
		b.mu.Unlock()
		terminal, err := hooks.HandleSuccess(b, hdr, body)
		if err != nil {
			b.finish(ExtServerBad)
			return
		}
		if terminal {
			b.finish(ExtSuccess)
		}
		return

	case wireproto.StatusCreated, wireproto.StatusQueued, wireproto.StatusInProgress, wireproto.StatusIsCancelling:
		if b.keepTracking {
			b.armRetryTimer()
			b.mu.Unlock()
			return
		}
		ext := nonTerminalToExtended(hdr.Status)
		b.mu.Unlock()
		b.finish(ext)
		return

	case wireproto.StatusBad:
		b.mu.Unlock()
		b.finish(ExtServerBad)
		return
	case wireproto.StatusFailed:
		b.mu.Unlock()
		b.finish(ExtServerError)
		return
	case wireproto.StatusCancelled:
		b.mu.Unlock()
		b.finish(ExtServerCancelled)
		return
	default:
		b.mu.Unlock()
		b.log.DPanic("request: protocol violation, unexpected status", zap.String("id", b.id), zap.String("status", string(hdr.Status)))
		b.finish(ExtServerBad)
		return
	}
}

func nonTerminalToExtended(s wireproto.Status) ExtendedState {
	switch s {
	case wireproto.StatusCreated:
		return ExtServerCreated
	case wireproto.StatusQueued:
		return ExtServerQueued
	case wireproto.StatusInProgress:
		return ExtServerInProgress
	case wireproto.StatusIsCancelling:
		return ExtServerIsCancelling
	default:
		return ExtServerBad
	}
}

// Cancel implements the cancel() contract: idempotent, finishes with
// CANCELLED, and if the worker side might still be running the request,
// sends a best-effort StopRequest at the same priority without awaiting
// a reply.
func (b *Base) Cancel() {
	b.mu.Lock()
	if b.state == StateFinished {
		b.mu.Unlock()
		return
	}
	notFinishedAtWorker := b.serverStatus != wireproto.StatusSuccess && b.serverStatus != wireproto.StatusBad &&
		b.serverStatus != wireproto.StatusFailed && b.serverStatus != wireproto.StatusCancelled
	conn := b.conn
	id := b.id
	b.mu.Unlock()

	b.finish(ExtCancelled)

	if notFinishedAtWorker && conn != nil {
		stopHdr := wireproto.RequestHeader{ID: id + "-stop", Category: wireproto.CategoryQueued, ManagementType: "STOP", Priority: b.priority}
		_ = conn.Send(stopHdr, struct {
			TargetID string `json:"target_id"`
		}{TargetID: id}, func(wireproto.ResponseHeader, []byte) {})
	}
}

// finish implements the finish(extendedState) contract: latches the
// extended state, stops timers, unregisters from the Controller, runs
// finishImpl, and notifies the caller and any Wait() callers.
func (b *Base) finish(ext ExtendedState) {
	b.mu.Lock()
	if b.state == StateFinished {
		b.mu.Unlock()
		return
	}
	b.state = StateFinished
	b.extState = ext
	b.perf.FinishTimeMs = nowMs()
	if b.retryTimer != nil {
		b.retryTimer.Stop()
	}
	if b.expireTimer != nil {
		b.expireTimer.Stop()
	}
	if b.hooks.FinishImpl != nil {
		b.hooks.FinishImpl(b, ext)
	}
	registry := b.registry
	onFinish := b.onFinish
	waiters := b.waiters
	b.waiters = nil
	b.mu.Unlock()

	if registry != nil {
		registry.RemoveRequest(b.id)
	}
	for _, ch := range waiters {
		close(ch)
	}
	if onFinish != nil {
		onFinish(b)
	}
}

// Send is exposed so Hooks implementations (e.g. streaming requests that
// re-issue themselves at a new offset) can send additional frames for
// this same request id through the owning connection.
func (b *Base) Send(hdr wireproto.RequestHeader, body interface{}) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	return conn.Send(hdr, body, b.onResponse)
}

// SendDetached sends a management frame (dispose, stop) whose response, if
// any, is not routed back through onResponse: these are best-effort and
// the request does not await or interpret a reply.
func (b *Base) SendDetached(hdr wireproto.RequestHeader, body interface{}) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	return conn.Send(hdr, body, func(wireproto.ResponseHeader, []byte) {})
}
