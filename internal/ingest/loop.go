package ingest

import (
	"context"

	"github.com/lsst/qserv-sub024/internal/dbsvc"
	"github.com/lsst/qserv-sub024/internal/obs"
	"go.uber.org/zap"
)

// Loader performs the actual bulk-load of one contribution's CSV payload
// into the MySQL partition table. The load engine itself is an
// out-of-scope external collaborator (section 1's Non-goals exclude the
// MySQL/xrootd data plane); Run only drives the queue-of-queues contract
// around whatever Loader is wired in.
type Loader interface {
	Load(ctx context.Context, r *TransactionContribInfo) error
}

// Run drives numWorkers goroutines pulling eligible contributions off m
// and running them through loader, persisting the outcome through pool
// and marking each one Completed so SubmitSync callers unblock and the
// scheduling policy can admit the next eligible database. Run returns
// when ctx is cancelled.
func Run(ctx context.Context, m *Manager, pool *dbsvc.Pool, loader Loader, numWorkers int, log *zap.Logger) {
	for i := 0; i < numWorkers; i++ {
		go runWorker(ctx, m, pool, loader, log)
	}
}

func runWorker(ctx context.Context, m *Manager, pool *dbsvc.Pool, loader Loader, log *zap.Logger) {
	for {
		r, err := m.Next(ctx)
		if err != nil {
			return
		}
		processOne(ctx, m, pool, loader, r, log)
	}
}

func processOne(ctx context.Context, m *Manager, pool *dbsvc.Pool, loader Loader, r *TransactionContribInfo, log *zap.Logger) {
	m.mu.Lock()
	cancelled := r.cancelRequested
	m.mu.Unlock()
	if cancelled {
		r.Status = StatusCancelled
		if cerr := pool.SaveContribution(ctx, r.Database, r.ID, r); cerr != nil {
			log.Warn("ingest: failed to persist cancelled contribution", obs.Err(cerr))
		}
		if cerr := m.Completed(r.ID); cerr != nil {
			log.Warn("ingest: Completed failed", obs.Err(cerr))
		}
		return
	}
	err := loader.Load(ctx, r)
	r.ReadTimeMs = nowMs()
	if err != nil {
		r.LastError = err.Error()
		if r.RetryCount < r.MaxRetries && r.RetryAllowed {
			r.RetryCount++
			if cerr := pool.SaveContribution(ctx, r.Database, r.ID, r); cerr != nil {
				log.Warn("ingest: failed to persist retry", obs.Err(cerr))
			}
			if cerr := m.Completed(r.ID); cerr != nil {
				log.Warn("ingest: Completed failed on retry path", obs.Err(cerr))
			}
			m.Submit(r)
			return
		}
		r.Status = StatusLoadFailed
	} else {
		r.LoadTimeMs = nowMs()
		r.Status = StatusFinished
	}

	if cerr := pool.SaveContribution(ctx, r.Database, r.ID, r); cerr != nil {
		log.Warn("ingest: failed to persist terminal contribution", obs.Err(cerr))
	}
	if cerr := m.Completed(r.ID); cerr != nil {
		log.Warn("ingest: Completed failed", obs.Err(cerr))
	}
}
