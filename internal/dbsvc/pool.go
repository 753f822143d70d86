// Package dbsvc implements the DatabaseServicesPool from section 4.7 of
// the design: a bounded pool of persistent "database service" handles,
// each backed by a pooled *redis.Client, with blocking allocate/release
// and guaranteed release on every exit path. Redis stands in for the
// database service the original system treats as an external
// collaborator (MySQL storage layout is explicitly out of scope); what's
// in scope is the pool's allocate/release contract and the records it
// persists on the rest of the system's behalf.
package dbsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// service is one pooled handle. All handles share the same underlying
// *redis.Client (itself already connection-pooled); the bound this
// package enforces is on concurrent *logical* database-service users,
// per spec.md's "fixed-size pool of service handles" rather than on
// TCP connections themselves.
type service struct {
	id  int
	rdb *redis.Client
}

// Pool is the bounded, blocking handle pool.
type Pool struct {
	rdb  *redis.Client
	free chan *service
}

// New constructs a Pool of size handles, all sharing one pooled
// *redis.Client to addr/db. size is database.services_pool_size.
func New(addr, password string, db, size int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("dbsvc: pool size must be >= 1")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     size,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	p := &Pool{rdb: rdb, free: make(chan *service, size)}
	for i := 0; i < size; i++ {
		p.free <- &service{id: i, rdb: rdb}
	}
	return p, nil
}

// Close tears down the underlying client. Callers must not allocate
// after Close.
func (p *Pool) Close() error {
	return p.rdb.Close()
}

// Ping verifies connectivity, for the HTTP /health endpoint.
func (p *Pool) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// allocate blocks until a handle is free or ctx is done, mirroring the
// condition-variable-guarded allocateService() contract: no handle is
// ever handed out twice, and a canceled caller gives up its place in
// line rather than leaking a permanently-blocked goroutine.
func (p *Pool) allocate(ctx context.Context) (*service, error) {
	select {
	case s := <-p.free:
		return s, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("dbsvc: allocateService: %w", ctx.Err())
	}
}

// release returns a handle to the pool. Every method below does this in
// a defer immediately after a successful allocate, so a handle is
// released on every exit path including a panic unwinding past the
// defer.
func (p *Pool) release(s *service) {
	p.free <- s
}

// withService allocates a handle, guarantees its release, and runs fn.
func (p *Pool) withService(ctx context.Context, fn func(rdb *redis.Client) error) error {
	s, err := p.allocate(ctx)
	if err != nil {
		return err
	}
	defer p.release(s)
	return fn(s.rdb)
}
