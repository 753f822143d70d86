package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ErrTimerExpired is IngestRequestTimerExpired from section 4.6: the
// timed variant of next() returns this when no eligible request appears
// before the deadline.
var ErrTimerExpired = fmt.Errorf("ingest: no eligible request before deadline")

// ErrNotFound is returned by Cancel/Completed for an unknown id.
var ErrNotFound = fmt.Errorf("ingest: unknown contribution id")

// ErrCancelled names a cancelled request. No function in this package
// returns it (Submit always succeeds); it is kept for symmetry with
// Cancel.
var ErrCancelled = fmt.Errorf("ingest: request was cancelled")

// Manager is the per-worker queue-of-queues: one FIFO input queue per
// database, a per-database concurrency cap, and an in-progress set,
// guarded by one mutex and condition variable exactly as section 4.6
// describes (a single mutex protecting all of the manager's own state;
// it never holds any other lock while blocked).
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond

	input          map[string][]*TransactionContribInfo
	inProgress     map[string]*TransactionContribInfo
	maxConcurrency map[string]int
	concurrency    map[string]int
	waiters        map[string]chan struct{}

	defaultMaxConcurrency int
}

// NewManager constructs an empty Manager. defaultMaxConcurrency is used
// for any database that has not had SetMaxConcurrency called explicitly.
func NewManager(defaultMaxConcurrency int) *Manager {
	m := &Manager{
		input:          make(map[string][]*TransactionContribInfo),
		inProgress:     make(map[string]*TransactionContribInfo),
		maxConcurrency: make(map[string]int),
		concurrency:    make(map[string]int),
		waiters:        make(map[string]chan struct{}),
		defaultMaxConcurrency: defaultMaxConcurrency,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// SetMaxConcurrency overrides the per-database concurrency cap.
func (m *Manager) SetMaxConcurrency(database string, n int) {
	m.mu.Lock()
	m.maxConcurrency[database] = n
	m.mu.Unlock()
	m.cond.Broadcast()
}

func (m *Manager) maxConcurrencyLocked(database string) int {
	if n, ok := m.maxConcurrency[database]; ok {
		return n
	}
	return m.defaultMaxConcurrency
}

// Submit pushes r to the back of its database's input queue and wakes
// one waiter in next().
func (m *Manager) Submit(r *TransactionContribInfo) {
	m.mu.Lock()
	r.Status = StatusQueued
	m.input[r.Database] = append(m.input[r.Database], r)
	m.mu.Unlock()
	m.cond.Signal()
}

// SubmitSync submits r like Submit, then blocks until some goroutine
// calls Completed(r.ID) or Cancel(r.ID) on a still-queued r, or ctx is
// done. Backs the HTTP surface's synchronous contribution endpoint.
func (m *Manager) SubmitSync(ctx context.Context, r *TransactionContribInfo) error {
	ch := make(chan struct{})
	m.mu.Lock()
	m.waiters[r.ID] = ch
	m.mu.Unlock()

	m.Submit(r)

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) signalWaiterLocked(id string) (ch chan struct{}) {
	ch = m.waiters[id]
	delete(m.waiters, id)
	return ch
}

// eligibleLocked picks the database with the lowest concurrency/maxConcurrency
// ratio among those with a non-empty queue and spare capacity, tie-broken
// by the oldest front-of-queue CreateTimeMs. Caller holds m.mu.
func (m *Manager) eligibleLocked() (string, bool) {
	bestDB := ""
	bestRatio := -1.0
	bestCreate := int64(0)
	found := false
	for db, q := range m.input {
		if len(q) == 0 {
			continue
		}
		maxC := m.maxConcurrencyLocked(db)
		cur := m.concurrency[db]
		if cur >= maxC {
			continue
		}
		ratio := float64(cur) / float64(maxC)
		create := q[0].CreateTimeMs
		if !found || ratio < bestRatio || (ratio == bestRatio && create < bestCreate) {
			bestDB, bestRatio, bestCreate, found = db, ratio, create, true
		}
	}
	return bestDB, found
}

// popFrontLocked removes and returns the front of database's queue.
// Caller holds m.mu.
func (m *Manager) popFrontLocked(database string) *TransactionContribInfo {
	q := m.input[database]
	r := q[0]
	m.input[database] = q[1:]
	return r
}

// Next blocks until an eligible request exists, dispatches it (moving it
// to in-progress and incrementing that database's concurrency), and
// returns it. Blocks indefinitely; for a bounded wait use NextTimeout.
func (m *Manager) Next(ctx context.Context) (*TransactionContribInfo, error) {
	done := make(chan struct{})
	defer close(done)
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				m.cond.Broadcast() // wake the waiter so it can observe ctx.Err()
			case <-done:
			}
		}()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if db, ok := m.eligibleLocked(); ok {
			r := m.popFrontLocked(db)
			m.inProgress[r.ID] = r
			m.concurrency[db]++
			r.Status = StatusInProgress
			r.StartTimeMs = nowMs()
			return r, nil
		}
		if ctx != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.cond.Wait()
	}
}

// NextTimeout is the timed variant: ErrTimerExpired if no eligible
// request appears within ivalMsec.
func (m *Manager) NextTimeout(ivalMsec int) (*TransactionContribInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(ivalMsec)*time.Millisecond)
	defer cancel()
	r, err := m.Next(ctx)
	if err != nil {
		return nil, ErrTimerExpired
	}
	return r, nil
}

// Completed moves id out of in-progress and decrements its database's
// concurrency, waking waiters that might now be eligible.
func (m *Manager) Completed(id string) error {
	m.mu.Lock()
	r, ok := m.inProgress[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.inProgress, id)
	m.concurrency[r.Database]--
	ch := m.signalWaiterLocked(id)
	m.mu.Unlock()
	m.cond.Signal()
	if ch != nil {
		close(ch)
	}
	return nil
}

// Cancel implements the cancel(id) contract: deterministic (removed,
// CANCELLED) while still queued; advisory (a flag observed at the
// executing thread's checkpoints) while in-progress. For an id that is
// neither queued nor in progress (including a finished, failed or
// cancelled one, whose record is not kept in memory) it changes nothing
// and returns ErrNotFound; the persisted record holds its status.
func (m *Manager) Cancel(id string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for db, q := range m.input {
		for i, r := range q {
			if r.ID == id {
				m.input[db] = append(q[:i], q[i+1:]...)
				r.Status = StatusCancelled
				if ch := m.signalWaiterLocked(id); ch != nil {
					close(ch)
				}
				return StatusCancelled, nil
			}
		}
	}
	if r, ok := m.inProgress[id]; ok {
		r.cancelRequested = true
		return r.Status, nil
	}
	return "", ErrNotFound
}

// CancelRequested reports whether Cancel was called on an in-progress
// contribution. processOne checks the flag before calling Loader.Load and
// then finishes the contribution CANCELLED; a cancel that arrives while
// Load is running does not interrupt it.
func (r *TransactionContribInfo) CancelRequested() bool {
	return r.cancelRequested
}

// Get returns the live (queued or in-progress) record for id, if any.
// Terminal records are not retained in memory; callers fall back to the
// persisted copy in internal/dbsvc once Get reports !ok.
func (m *Manager) Get(id string) (*TransactionContribInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.inProgress[id]; ok {
		return r, true
	}
	for _, q := range m.input {
		for _, r := range q {
			if r.ID == id {
				return r, true
			}
		}
	}
	return nil, false
}

// QueueDepth returns the current input-queue length for database, for
// metrics/observability.
func (m *Manager) QueueDepth(database string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.input[database])
}

// Concurrency returns the current/max concurrency pair for database.
func (m *Manager) Concurrency(database string) (current, max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.concurrency[database], m.maxConcurrencyLocked(database)
}

func nowMs() int64 { return time.Now().UnixMilli() }
