package job

import (
	"context"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/infrastructure/lock"
	"creditledger/internal/service"

	"go.uber.org/zap"
)

type EventReconciler interface {
	ReconcilePending(ctx context.Context, before time.Time, limit int) (service.SweepResult, error)
}

type ConfirmationReconciler interface {
	ReconcileStale(ctx context.Context, before time.Time, limit int) (service.SweepResult, error)
}

// ReconcileJob settles billable events left in pending_credit_check and
// resolves payment confirmations left in pending_processing. Only records
// older than staleAfter are touched so live requests finish undisturbed.
type ReconcileJob struct {
	events        EventReconciler
	confirmations ConfirmationReconciler
	lock          lock.Locker
	log           *zap.Logger
	stopCh        chan struct{}
	interval      time.Duration
	staleAfter    time.Duration
	batchSize     int
	now           func() time.Time
}

// NewReconcileJob builds the job. locker may be nil when a single instance
// runs, in which case every tick sweeps.
func NewReconcileJob(events EventReconciler, confirmations ConfirmationReconciler, locker lock.Locker, cfg *config.Config, log *zap.Logger) *ReconcileJob {
	return &ReconcileJob{
		events:        events,
		confirmations: confirmations,
		lock:          locker,
		log:           log.Named("job.reconcile"),
		stopCh:        make(chan struct{}),
		interval:      cfg.Jobs.ReconcileInterval,
		staleAfter:    cfg.Jobs.ReconcileStaleAfter,
		batchSize:     cfg.Jobs.ReconcileBatchSize,
		now:           time.Now,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	j.log.Info("reconcile job started", zap.Duration("interval", j.interval), zap.Duration("stale_after", j.staleAfter))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("reconcile job exiting on context done")
			return
		case <-j.stopCh:
			j.log.Info("reconcile job stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

// RunOnce performs one sweep if this instance wins the lock.
func (j *ReconcileJob) RunOnce(ctx context.Context) {
	if j.lock != nil {
		ok, err := j.lock.TryLock(ctx)
		if err != nil {
			j.log.Warn("reconcile lock unavailable", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := j.lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				j.log.Warn("release reconcile lock", zap.Error(err))
			}
		}()
	}

	before := j.now().Add(-j.staleAfter)

	events, err := j.events.ReconcilePending(ctx, before, j.batchSize)
	if err != nil {
		j.log.Error("sweep pending billable events", zap.Error(err))
	} else if events.Scanned > 0 {
		j.log.Info("pending billable events swept",
			zap.Int("scanned", events.Scanned),
			zap.Int("resolved", events.Resolved),
			zap.Int("skipped", events.Skipped),
			zap.Int("errors", events.Errors),
		)
	}

	confirmations, err := j.confirmations.ReconcileStale(ctx, before, j.batchSize)
	if err != nil {
		j.log.Error("sweep stale payment confirmations", zap.Error(err))
	} else if confirmations.Scanned > 0 {
		j.log.Info("stale payment confirmations swept",
			zap.Int("scanned", confirmations.Scanned),
			zap.Int("resolved", confirmations.Resolved),
			zap.Int("skipped", confirmations.Skipped),
			zap.Int("errors", confirmations.Errors),
		)
	}
}
