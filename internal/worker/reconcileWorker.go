package worker

import (
	"context"
	"time"

	"github.com/ds124wfegd/appointly/internal/service"
	"github.com/sirupsen/logrus"
)

// Purger drops expired rows from stores that do not expire keys on their own.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// ReconcileWorker periodically pulls delivery status for open SMS attempts.
type ReconcileWorker struct {
	delivery service.DeliveryService
	purger   Purger
	interval time.Duration
	limit    int
}

func NewReconcileWorker(delivery service.DeliveryService, purger Purger, interval time.Duration, limit int) *ReconcileWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReconcileWorker{
		delivery: delivery,
		purger:   purger,
		interval: interval,
		limit:    limit,
	}
}

func (w *ReconcileWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logrus.Info("Delivery reconcile worker started")

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Delivery reconcile worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce does one reconcile pass and, when configured, one purge pass.
func (w *ReconcileWorker) RunOnce(ctx context.Context) {
	report, err := w.delivery.ReconcilePending(ctx, w.limit)
	if err != nil {
		logrus.Errorf("Failed to reconcile delivery status: %v", err)
	} else if report.Errors > 0 {
		logrus.Warnf("%d delivery status checks failed during reconcile", report.Errors)
	}

	if w.purger == nil {
		return
	}
	purged, err := w.purger.PurgeExpired(ctx)
	if err != nil {
		logrus.Errorf("Failed to purge expired records: %v", err)
		return
	}
	if purged > 0 {
		logrus.Infof("Purged %d expired records", purged)
	}
}
