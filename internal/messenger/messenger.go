// Package messenger implements the per-worker persistent connection
// described in section 4.1 of the design: a single writer and a single
// reader over one long-lived stream, a FIFO outbound queue keyed by
// request id, and response dispatch back to the request that sent the
// matching id. Transport errors abort every in-flight call on that
// connection with a synthetic CLIENT_ERROR response and schedule
// reconnection with exponential back-off capped at the configured retry
// interval, using internal/breaker's circuit breaker to stop hammering
// a failing endpoint.
package messenger

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lsst/qserv-sub024/internal/breaker"
	"github.com/lsst/qserv-sub024/internal/obs"
	"github.com/lsst/qserv-sub024/internal/wireproto"
	"go.uber.org/zap"
)

// Dialer opens the transport to a worker's primary endpoint. Production
// code dials a TCP socket; tests can substitute net.Pipe or an in-memory
// pair.
type Dialer func(ctx context.Context, addr string) (io.ReadWriteCloser, error)

// ResponseFunc is invoked exactly once per outbound request, either with
// the worker's real response or a synthetic one on transport failure.
type ResponseFunc func(hdr wireproto.ResponseHeader, body []byte)

type outboundFrame struct {
	id    string
	frame wireproto.Frame
}

// Connection is the single persistent stream to one worker.
type Connection struct {
	workerName string
	addr       string
	dial       Dialer
	retryBase  time.Duration
	retryCap   time.Duration
	log        *zap.Logger
	cb         *breaker.CircuitBreaker

	mu      sync.Mutex
	pending map[string]ResponseFunc
	outCh   chan outboundFrame
	conn    io.ReadWriteCloser
	attempt int

	cancel context.CancelFunc
	done   chan struct{}
}

func newConnection(workerName, addr string, dial Dialer, retryBase, retryCap time.Duration, log *zap.Logger) *Connection {
	return &Connection{
		workerName: workerName,
		addr:       addr,
		dial:       dial,
		retryBase:  retryBase,
		retryCap:   retryCap,
		log:        log,
		cb:         breaker.New(1*time.Minute, 5*time.Second, 0.8, 5),
		pending:    make(map[string]ResponseFunc),
		outCh:      make(chan outboundFrame, 256),
		done:       make(chan struct{}),
	}
}

func (c *Connection) run(ctx context.Context) {
	defer close(c.done)
	for ctx.Err() == nil {
		if !c.cb.Allow() {
			c.log.Debug("messenger: circuit open, skipping dial", obs.String("worker", c.workerName))
			if !c.sleepBackoff(ctx) {
				return
			}
			continue
		}
		conn, err := c.dial(ctx, c.addr)
		c.cb.Record(err == nil)
		if err != nil {
			c.log.Warn("messenger dial failed", obs.String("worker", c.workerName), obs.Err(err))
			if !c.sleepBackoff(ctx) {
				return
			}
			continue
		}
		c.attempt = 0
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		readerDone := make(chan struct{})
		writerDone := make(chan struct{})
		connCtx, cancel := context.WithCancel(ctx)
		go func() { defer close(readerDone); c.readLoop(connCtx, conn) }()
		go func() { defer close(writerDone); c.writeLoop(connCtx, conn) }()

		select {
		case <-readerDone:
		case <-writerDone:
		case <-ctx.Done():
		}
		cancel()
		_ = conn.Close()
		<-readerDone
		<-writerDone

		c.abortInFlight()
		if ctx.Err() != nil {
			return
		}
		obs.MessengerReconnects.WithLabelValues(c.workerName).Inc()
		if !c.sleepBackoff(ctx) {
			return
		}
	}
}

func (c *Connection) sleepBackoff(ctx context.Context) bool {
	c.attempt++
	d := time.Duration(1<<uint(minInt(c.attempt, 30))) * c.retryBase
	if d > c.retryCap || d <= 0 {
		d = c.retryCap
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (c *Connection) writeLoop(ctx context.Context, conn io.ReadWriteCloser) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-c.outCh:
			if err := wireproto.WriteFrame(conn, out.frame); err != nil {
				// The pending callback stays registered; abortInFlight
				// synthesizes its CLIENT_ERROR once teardown runs.
				return
			}
		}
	}
}

func (c *Connection) readLoop(ctx context.Context, conn io.ReadWriteCloser) {
	for {
		body, err := wireproto.ReadFrame(conn)
		if err != nil {
			return
		}
		var frame wireproto.Frame
		if err := wireproto.Unmarshal(body, &frame); err != nil {
			c.log.Warn("messenger: dropping malformed frame", obs.String("worker", c.workerName), obs.Err(err))
			continue
		}
		if frame.Response == nil {
			continue
		}
		c.dispatch(frame.Response.ID, *frame.Response, frame.Body)
	}
}

func (c *Connection) dispatch(id string, hdr wireproto.ResponseHeader, body []byte) {
	c.mu.Lock()
	fn, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		c.log.Warn("messenger: unknown or stale request id, dropping response", obs.String("worker", c.workerName), obs.String("id", id))
		return
	}
	fn(hdr, body)
}

func (c *Connection) abortInFlight() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]ResponseFunc)
	c.mu.Unlock()
	for id, fn := range pending {
		fn(wireproto.ResponseHeader{ID: id, Status: wireproto.StatusBad, StatusExt: "CLIENT_ERROR"}, nil)
	}
}

// Send enqueues a request frame for this connection's FIFO and registers
// onResponse to be invoked exactly once with the eventual (or synthetic)
// response. Only one outstanding frame per request id is permitted;
// callers must wait for the previous response before sending the next
// frame for the same id.
func (c *Connection) Send(hdr wireproto.RequestHeader, body interface{}, onResponse ResponseFunc) error {
	frameBody, err := wireproto.MarshalBody(body)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if _, exists := c.pending[hdr.ID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("messenger: request %s already has an outstanding frame", hdr.ID)
	}
	c.pending[hdr.ID] = onResponse
	c.mu.Unlock()

	select {
	case c.outCh <- outboundFrame{id: hdr.ID, frame: wireproto.Frame{Request: &hdr, Body: frameBody}}:
		return nil
	default:
		c.mu.Lock()
		delete(c.pending, hdr.ID)
		c.mu.Unlock()
		return fmt.Errorf("messenger: outbound queue to worker %s is full", c.workerName)
	}
}

// Messenger is the registry of per-worker Connections.
type Messenger struct {
	mu          sync.Mutex
	conns       map[string]*Connection
	dial        Dialer
	retryBase   time.Duration
	retryCap    time.Duration
	log         *zap.Logger
	rootCtx     context.Context
	rootCancel  context.CancelFunc
}

// New constructs a Messenger. retryBase/retryCap drive the exponential
// reconnect back-off per connection.
func New(dial Dialer, retryBase, retryCap time.Duration, log *zap.Logger) *Messenger {
	ctx, cancel := context.WithCancel(context.Background())
	return &Messenger{
		conns:      make(map[string]*Connection),
		dial:       dial,
		retryBase:  retryBase,
		retryCap:   retryCap,
		log:        log,
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// Connection returns (creating and starting if necessary) the persistent
// connection to the named worker at addr.
func (m *Messenger) Connection(workerName, addr string) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[workerName]; ok {
		return c
	}
	c := newConnection(workerName, addr, m.dial, m.retryBase, m.retryCap, m.log)
	m.conns[workerName] = c
	go c.run(m.rootCtx)
	return c
}

// Close tears down every connection.
func (m *Messenger) Close() {
	m.rootCancel()
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		<-c.done
	}
}
