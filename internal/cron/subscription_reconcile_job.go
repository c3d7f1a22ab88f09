package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/pitchside/pitchside-backend/internal/reconcile"
	"github.com/pitchside/pitchside-backend/pkg/logger"
)

const (
	defaultReconcileLimit    = 250
	defaultReconcileLookback = 7 * 24 * time.Hour
)

type subscriptionSyncer interface {
	SyncBatch(ctx context.Context, limit int, lookback time.Duration) (*reconcile.SyncResult, error)
}

// SubscriptionReconcileJobParams configures the subscription sync cron job.
type SubscriptionReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler subscriptionSyncer
	Limit      int
	Lookback   time.Duration
}

// NewSubscriptionReconcileJob builds the job that re-syncs recently-touched
// processor-backed subscriptions.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	return &subscriptionReconcileJob{
		logg:       params.Logger,
		reconciler: params.Reconciler,
		limit:      limit,
		lookback:   lookback,
	}, nil
}

type subscriptionReconcileJob struct {
	logg       *logger.Logger
	reconciler subscriptionSyncer
	limit      int
	lookback   time.Duration
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	result, err := j.reconciler.SyncBatch(ctx, j.limit, j.lookback)
	if err != nil {
		return fmt.Errorf("subscription reconcile: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"limit":    j.limit,
		"lookback": j.lookback.String(),
		"synced":   result.Synced,
		"failed":   result.Failed,
	})
	if result.Failed > 0 {
		j.logg.Warn(logCtx, "subscription reconcile finished with failures")
		return nil
	}
	j.logg.Info(logCtx, "subscription reconcile complete")
	return nil
}
