package ingest

import (
	"context"
	"os"

	"github.com/lsst/qserv-sub024/internal/dbsvc"
	"go.uber.org/zap"
)

// RecoveryOptions carries the two worker.* settings the boot-time
// recovery algorithm consults.
type RecoveryOptions struct {
	AutoResume      bool // worker.async-loader-auto-resume
	CleanupOnResume bool // worker.async-loader-cleanup-on-resume
}

// IsTransactionOpen reports whether a transaction id is still in the set
// of STARTED transactions; contributions belonging to a closed
// transaction are left alone by Recover.
type IsTransactionOpen func(transactionID uint32) bool

// Recover implements section 4.6's boot-time recovery: every persisted
// TransactionContribInfo across every registered database with status
// IN_PROGRESS and an open transaction is reclassified from the latest
// non-zero timestamp backward. Reclassified/resubmitted records are
// persisted back through pool so the new status survives a second
// restart, and eligible ones are handed to m.Submit.
func Recover(ctx context.Context, pool *dbsvc.Pool, m *Manager, opts RecoveryOptions, open IsTransactionOpen, log *zap.Logger) error {
	databases, err := pool.ListDatabases(ctx)
	if err != nil {
		return err
	}
	for _, db := range databases {
		ids, err := pool.ListContributionIDs(ctx, db)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var r TransactionContribInfo
			if err := pool.LoadContribution(ctx, id, &r); err != nil {
				log.Warn("ingest recovery: failed to load contribution, skipping", zap.String("id", id), zap.Error(err))
				continue
			}
			if r.Status != StatusInProgress {
				continue
			}
			if !open(r.TransactionID) {
				continue
			}
			if opts.CleanupOnResume && r.TmpFile != "" {
				if err := os.Remove(r.TmpFile); err != nil && !os.IsNotExist(err) {
					log.Warn("ingest recovery: failed to remove temp file, ignoring", zap.String("id", id), zap.String("path", r.TmpFile), zap.Error(err))
				}
			}
			reclassify(&r, opts)
			if err := pool.SaveContribution(ctx, db, id, &r); err != nil {
				log.Error("ingest recovery: failed to persist reclassified contribution", zap.String("id", id), zap.Error(err))
				continue
			}
			if r.Status == StatusQueued {
				m.Submit(&r)
			}
		}
	}
	return nil
}

// reclassify applies the four-case stage table from section 4.6 in
// place. A contribution resubmitted "as new" has its stage timestamps
// cleared and status set back to QUEUED; Recover then calls m.Submit.
func reclassify(r *TransactionContribInfo, opts RecoveryOptions) {
	switch {
	case r.LoadTimeMs != 0:
		// Impossible for a persisted IN_PROGRESS record; treat as
		// corruption rather than silently trusting it.
		r.Status = StatusLoadFailed
		r.RetryAllowed = false
		r.LastError = "boot-time recovery: corrupt record (load_time set on an IN_PROGRESS contribution)"

	case r.ReadTimeMs != 0:
		// Loading into the database was in flight at restart; outcome
		// unknown, never auto-retried.
		r.Status = StatusLoadFailed
		r.RetryAllowed = false
		r.LastError = "boot-time recovery: interrupted while loading, outcome unknown"

	case r.StartTimeMs != 0:
		// Input source read was interrupted.
		if opts.AutoResume {
			r.StartTimeMs = 0
			r.Status = StatusQueued
		} else {
			r.Status = StatusReadFailed
			r.RetryAllowed = true
			r.LastError = "boot-time recovery: interrupted while reading input source"
		}

	default:
		// Still queued at restart.
		if opts.AutoResume {
			r.Status = StatusQueued
		} else {
			r.Status = StatusStartFailed
			r.RetryAllowed = true
			r.LastError = "boot-time recovery: never started before restart"
		}
	}
}
