// Package controller implements the Controller process described in
// section 4.1/4.4 of the design: the single owner of every in-flight
// Request and Job, the factory that builds them wired to the right
// Messenger connection, and the periodic fix-up scheduler. It is the
// component cmd/controllerd builds and the HTTP API drives.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lsst/qserv-sub024/internal/dbsvc"
	"github.com/lsst/qserv-sub024/internal/job"
	"github.com/lsst/qserv-sub024/internal/messenger"
	"github.com/lsst/qserv-sub024/internal/replica"
	"github.com/lsst/qserv-sub024/internal/request"
	"github.com/lsst/qserv-sub024/internal/wireproto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// WorkerAddr resolves a worker name to a dialable address; Controller
// never hardcodes worker topology, it asks this on every connection
// lookup so the worker set can change without a restart.
type WorkerAddr func(worker string) (addr string, ok bool)

// Controller owns the active-Request/Job registry, the per-worker
// Messenger, and the database services pool, and exposes the factory API
// used by cmd/controllerd and internal/httpapi.
type Controller struct {
	reg         *registry
	msgr        *messenger.Messenger
	workerAddr  WorkerAddr
	pool        *dbsvc.Pool
	log         *zap.Logger
	retryBase   time.Duration
	requestTTL  time.Duration
	jobTTL      time.Duration
	numSvcThreads int

	cronSched *cron.Cron
}

// New constructs a Controller. retryBase is common.request-retry-interval-sec;
// requestTTL/jobTTL are controller.request-timeout-sec/job-timeout-sec;
// numSvcThreads is worker.num-svc-processing-threads, the per-worker
// concurrency cap FixUpJob uses.
func New(msgr *messenger.Messenger, workerAddr WorkerAddr, pool *dbsvc.Pool, retryBase, requestTTL, jobTTL time.Duration, numSvcThreads int, log *zap.Logger) *Controller {
	return &Controller{
		reg: newRegistry(), msgr: msgr, workerAddr: workerAddr, pool: pool, log: log,
		retryBase: retryBase, requestTTL: requestTTL, jobTTL: jobTTL, numSvcThreads: numSvcThreads,
	}
}

func (c *Controller) conn(worker string) (*messenger.Connection, error) {
	addr, ok := c.workerAddr(worker)
	if !ok {
		return nil, fmt.Errorf("controller: unknown worker %q", worker)
	}
	return c.msgr.Connection(worker, addr), nil
}

func (c *Controller) deps(conn *messenger.Connection) request.Deps {
	return request.Deps{Conn: conn, RetryBase: c.retryBase, Registry: c.reg, Log: c.log}
}

func newID() string { return uuid.NewString() }

// Replicate starts a ReplicationRequest and returns it already running.
func (c *Controller) Replicate(ctx context.Context, workerFrom, workerTo, database string, chunk uint32) (*request.ReplicationRequest, error) {
	conn, err := c.conn(workerTo)
	if err != nil {
		return nil, err
	}
	r := request.NewReplicationRequest(newID(), workerFrom, workerTo, database, chunk, wireproto.PriorityNormal, true, c.deps(conn))
	if err := r.Start("", int(c.requestTTL.Seconds())); err != nil {
		return nil, err
	}
	return r, nil
}

// Delete starts a DeleteRequest.
func (c *Controller) Delete(ctx context.Context, worker, database string, chunk uint32) (*request.DeleteRequest, error) {
	conn, err := c.conn(worker)
	if err != nil {
		return nil, err
	}
	r := request.NewDeleteRequest(newID(), worker, database, chunk, wireproto.PriorityNormal, true, c.deps(conn))
	if err := r.Start("", int(c.requestTTL.Seconds())); err != nil {
		return nil, err
	}
	return r, nil
}

// Find starts a FindRequest.
func (c *Controller) Find(ctx context.Context, worker, database string, chunk uint32, computeChecksum bool) (*request.FindRequest, error) {
	conn, err := c.conn(worker)
	if err != nil {
		return nil, err
	}
	r := request.NewFindRequest(newID(), worker, database, chunk, computeChecksum, wireproto.PriorityNormal, true, c.deps(conn))
	if err := r.Start("", int(c.requestTTL.Seconds())); err != nil {
		return nil, err
	}
	return r, nil
}

// findAllFactory builds the FindAllFactory fix-up/census jobs need: one
// FindAllRequest per worker, persisting the census through the database
// services pool.
func (c *Controller) findAllFactory(database string) job.FindAllFactory {
	return func(worker string) *request.FindAllRequest {
		conn, err := c.conn(worker)
		if err != nil {
			// No connection for this worker: build a request that will
			// fail fast with CLIENT_ERROR rather than panicking the
			// fan-out goroutine.
			conn = c.msgr.Connection(worker, worker)
		}
		persist := func(infos []replica.Info) (bool, error) {
			return c.pool.SaveReplicaInfo(ctx(), database, infos)
		}
		return request.NewFindAllRequest(newID(), worker, database, true, persist, wireproto.PriorityNormal, true, c.deps(conn))
	}
}

func ctx() context.Context { return context.Background() }

// replicationFactory adapts job.ReplicationFactory to the Controller's
// connection resolution.
func (c *Controller) replicationFactory() job.ReplicationFactory {
	return func(task job.ReplicationTask) *request.ReplicationRequest {
		conn, err := c.conn(task.Destination)
		if err != nil {
			conn = c.msgr.Connection(task.Destination, task.Destination)
		}
		return request.NewReplicationRequest(newID(), task.Source, task.Destination, task.Database, task.Chunk, wireproto.PriorityNormal, true, c.deps(conn))
	}
}

// RunFixUp launches a FixUpJob for the given database family across
// workers and returns it already running; callers Wait() or poll via the
// registry/HTTP status endpoint.
func (c *Controller) RunFixUp(family, workers []string) (*job.FixUpJob, error) {
	if len(family) == 0 {
		return nil, fmt.Errorf("controller: fix-up requires a non-empty database family")
	}
	j := job.NewFixUpJob(newID(), "", family, workers, c.numSvcThreads, c.replicationFactory(), c.findAllFactory(family[0]), c.reg, c.log)
	if err := j.Start(); err != nil {
		return nil, err
	}
	return j, nil
}

// StartFixUpScheduler arms a cron job that runs RunFixUp for every family
// in families at the configured schedule (controller.fixup-cron-schedule),
// logging the outcome of each run rather than surfacing it synchronously.
func (c *Controller) StartFixUpScheduler(schedule string, families map[string][]string) error {
	c.cronSched = cron.New()
	for family, workers := range families {
		family, workers := family, workers
		_, err := c.cronSched.AddFunc(schedule, func() {
			j, err := c.RunFixUp([]string{family}, workers)
			if err != nil {
				c.log.Error("scheduled fix-up failed to start", zap.String("family", family), zap.Error(err))
				return
			}
			j.Wait()
			c.log.Info("scheduled fix-up finished", zap.String("family", family), zap.String("id", j.ID()), zap.String("state", string(j.ExtendedState())))
		})
		if err != nil {
			return fmt.Errorf("controller: schedule fix-up for %s: %w", family, err)
		}
	}
	c.cronSched.Start()
	return nil
}

// StopFixUpScheduler stops the cron scheduler, if one was started.
func (c *Controller) StopFixUpScheduler() {
	if c.cronSched != nil {
		c.cronSched.Stop()
	}
}

// Request looks up an active request by id, for the HTTP status endpoint.
func (c *Controller) Request(id string) (*request.Base, bool) { return c.reg.Request(id) }

// Job looks up an active job by id.
func (c *Controller) Job(id string) (*job.Base, bool) { return c.reg.Job(id) }

// Stats is the admin "stats" endpoint payload.
type Stats struct {
	ActiveRequests int `json:"active_requests"`
	ActiveJobs     int `json:"active_jobs"`
}

func (c *Controller) Stats() Stats {
	return Stats{
		ActiveRequests: len(c.reg.ActiveRequestIDs()),
		ActiveJobs:     len(c.reg.ActiveJobIDs()),
	}
}
