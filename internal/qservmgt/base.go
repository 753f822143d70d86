// Package qservmgt implements the QservMgtRequest family from section
// 4.8's system-overview row: a small set of request types that target a
// worker's embedded query service over an HTTP side-channel instead of
// the Messenger's binary wire protocol. It mirrors internal/request's
// Base state machine and Hooks composition (CREATED -> IN_PROGRESS ->
// FINISHED, retry timer, idempotent Cancel) but swaps the transport for
// an *http.Client call: request.Base's conn field is concretely typed to
// *messenger.Connection, so this package re-expresses the same shape
// against HTTP rather than introducing an interface seam into the
// already-exercised request package.
package qservmgt

import (
	"context"
	"net/http"
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

type ExtendedState string

const (
	ExtNone        ExtendedState = "NONE"
	ExtSuccess     ExtendedState = "SUCCESS"
	ExtClientError ExtendedState = "CLIENT_ERROR"
	ExtServerError ExtendedState = "SERVER_ERROR"
	ExtTimeout     ExtendedState = "TIMEOUT_EXPIRED"
	ExtCancelled   ExtendedState = "CANCELLED"
)

const retryCapMultiplier = 60

// Hooks are the subclass-supplied behaviors.
type Hooks struct {
	// Do performs the HTTP call and decodes its result. Called on a
	// dedicated goroutine per attempt; ctx is cancelled by Base.Cancel.
	Do func(ctx context.Context, client *http.Client) error
}

// Base is the shared QservMgtRequest state machine.
type Base struct {
	mu sync.Mutex

	id       string
	typ      string
	worker   string
	client   *http.Client
	retryBase time.Duration
	retryAttempt int

	state    State
	extState ExtendedState
	log      *zap.Logger
	hooks    Hooks

	cancelFn context.CancelFunc
	waiters  []chan struct{}
	onFinish func(*Base)
}

func NewBase(id, typ, worker string, client *http.Client, retryBase time.Duration, log *zap.Logger, hooks Hooks) *Base {
	return &Base{id: id, typ: typ, worker: worker, client: client, retryBase: retryBase, log: log, hooks: hooks, state: StateCreated, extState: ExtNone}
}

func (b *Base) ID() string   { return b.id }
func (b *Base) Type() string { return b.typ }

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Base) ExtendedState() ExtendedState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.extState
}

func (b *Base) OnFinish(fn func(*Base)) {
	b.mu.Lock()
	b.onFinish = fn
	b.mu.Unlock()
}

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

// Start runs hooks.Do on its own goroutine with a retry/backoff loop
// capped the same way request.Base's tracking timer is (base interval
// doubling up to 60x), until it succeeds, the context is cancelled,
// deadline elapses, or Do returns a non-retryable error (HTTP status
// >= 400), which finishes the request CLIENT_ERROR.
func (b *Base) Start(deadline time.Duration) error {
	b.mu.Lock()
	if b.state != StateCreated {
		b.mu.Unlock()
		return &stateError{"Start", b.state}
	}
	ctx := context.Background()
	if deadline > 0 {
		ctx, b.cancelFn = context.WithTimeout(ctx, deadline)
	} else {
		ctx, b.cancelFn = context.WithCancel(ctx)
	}
	b.state = StateInProgress
	b.mu.Unlock()

	go b.run(ctx)
	return nil
}

func (b *Base) run(ctx context.Context) {
	for {
		err := b.hooks.Do(ctx, b.client)
		if err == nil {
			b.finish(ExtSuccess)
			return
		}
		if _, ok := err.(*nonRetryableError); ok {
			b.finish(ExtClientError)
			return
		}
		if ctx.Err() != nil {
			if ctx.Err() == context.DeadlineExceeded {
				b.finish(ExtTimeout)
			} else {
				b.finish(ExtCancelled)
			}
			return
		}

		b.mu.Lock()
		b.retryAttempt++
		d := b.retryBase
		for i := 1; i < b.retryAttempt; i++ {
			d *= 2
			if d >= b.retryBase*retryCapMultiplier {
				d = b.retryBase * retryCapMultiplier
				break
			}
		}
		b.mu.Unlock()

		select {
		case <-time.After(d):
		case <-ctx.Done():
			b.finish(ExtCancelled)
			return
		}
	}
}

// Cancel cancels the in-flight HTTP call (if any) and finishes CANCELLED.
func (b *Base) Cancel() {
	b.mu.Lock()
	if b.state == StateFinished {
		b.mu.Unlock()
		return
	}
	cancel := b.cancelFn
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (b *Base) finish(ext ExtendedState) {
	b.mu.Lock()
	if b.state == StateFinished {
		b.mu.Unlock()
		return
	}
	b.state = StateFinished
	b.extState = ext
	onFinish := b.onFinish
	waiters := b.waiters
	b.waiters = nil
	b.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	if onFinish != nil {
		onFinish(b)
	}
}

type stateError struct {
	op    string
	state State
}

func (e *stateError) Error() string { return "qservmgt: " + e.op + " called in unexpected state" }
