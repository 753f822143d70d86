package workerproc

import (
	"sync"
	"testing"
	"time"

	"github.com/lsst/qserv-sub024/internal/wireproto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func immediateSuccess(b *Base) (bool, wireproto.Status, error) {
	return true, wireproto.StatusSuccess, nil
}

func TestProcessorRunsSubmittedRequestToFinish(t *testing.T) {
	p := New(2, zap.NewNop())
	done := make(chan struct{})
	req := NewBase("r1", "ECHO", wireproto.DefaultPriority, Hooks{
		Execute: immediateSuccess,
	})
	req.SetOnFinish(func(b *Base) { close(done) })

	p.Submit(req, 0)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("request did not finish")
	}
	require.Equal(t, StateFinished, req.State())
	require.Equal(t, wireproto.StatusSuccess, req.ExtendedStatus())
}

func TestProcessorOrdersByPriorityThenInsertionOrder(t *testing.T) {
	p := New(1, zap.NewNop())
	var order []string
	var mu lockedSlice
	block := make(chan struct{})

	blocker := NewBase("blocker", "ECHO", wireproto.PriorityLow, Hooks{
		Execute: func(b *Base) (bool, wireproto.Status, error) {
			<-block
			return true, wireproto.StatusSuccess, nil
		},
	})
	p.Submit(blocker, 0)
	time.Sleep(20 * time.Millisecond) // ensure blocker is dequeued first

	mkReq := func(id string, pr wireproto.Priority) *Base {
		done := make(chan struct{})
		r := NewBase(id, "ECHO", pr, Hooks{Execute: immediateSuccess})
		r.SetOnFinish(func(b *Base) {
			mu.append(id)
			close(done)
		})
		return r
	}

	low := mkReq("low", wireproto.PriorityLow)
	high := mkReq("high", wireproto.PriorityHigh)
	p.Submit(low, 0)
	p.Submit(high, 0)

	close(block)

	require.Eventually(t, func() bool { return len(mu.get()) == 2 }, time.Second, 5*time.Millisecond)
	order = mu.get()
	require.Equal(t, []string{"high", "low"}, order)
}

func TestProcessorCancelRemovesPendingRequest(t *testing.T) {
	p := New(0, zap.NewNop()) // no worker threads drain the queue
	req := NewBase("r1", "ECHO", wireproto.DefaultPriority, Hooks{Execute: immediateSuccess})
	p.Submit(req, 0)

	require.NoError(t, p.Cancel("r1"))
	require.Equal(t, StateFinished, req.State())
	require.Equal(t, wireproto.StatusCancelled, req.ExtendedStatus())

	found, ok := p.Lookup("r1")
	require.True(t, ok)
	require.Same(t, req, found)
}

func TestProcessorDisposeRemovesFinishedRequest(t *testing.T) {
	p := New(1, zap.NewNop())
	done := make(chan struct{})
	req := NewBase("r1", "ECHO", wireproto.DefaultPriority, Hooks{Execute: immediateSuccess})
	req.SetOnFinish(func(b *Base) { close(done) })
	p.Submit(req, 0)
	<-done

	p.Dispose("r1")
	_, ok := p.Lookup("r1")
	require.False(t, ok)
}

// lockedSlice is a trivial concurrency-safe string slice for ordering assertions.
type lockedSlice struct {
	mu sync.Mutex
	s  []string
}

func (l *lockedSlice) append(v string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.s = append(l.s, v)
}

func (l *lockedSlice) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.s))
	copy(out, l.s)
	return out
}
