package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pitchside/pitchside-backend/internal/reconcile"
	"github.com/pitchside/pitchside-backend/pkg/logger"
)

type fakeSyncer struct {
	limit    int
	lookback time.Duration
	result   *reconcile.SyncResult
	err      error
	calls    int
}

func (f *fakeSyncer) SyncBatch(_ context.Context, limit int, lookback time.Duration) (*reconcile.SyncResult, error) {
	f.calls++
	f.limit = limit
	f.lookback = lookback
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestSubscriptionReconcileJobUsesDefaults(t *testing.T) {
	syncer := &fakeSyncer{result: &reconcile.SyncResult{Synced: 3}}
	job, err := NewSubscriptionReconcileJob(SubscriptionReconcileJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Reconciler: syncer,
	})
	if err != nil {
		t.Fatalf("NewSubscriptionReconcileJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if syncer.calls != 1 {
		t.Fatalf("expected one batch, got %d", syncer.calls)
	}
	if syncer.limit != defaultReconcileLimit {
		t.Fatalf("expected default limit %d, got %d", defaultReconcileLimit, syncer.limit)
	}
	if syncer.lookback != defaultReconcileLookback {
		t.Fatalf("expected default lookback %s, got %s", defaultReconcileLookback, syncer.lookback)
	}
}

func TestSubscriptionReconcileJobToleratesItemFailures(t *testing.T) {
	syncer := &fakeSyncer{result: &reconcile.SyncResult{Synced: 1, Failed: 2}}
	job, err := NewSubscriptionReconcileJob(SubscriptionReconcileJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Reconciler: syncer,
		Limit:      10,
		Lookback:   time.Hour,
	})
	if err != nil {
		t.Fatalf("NewSubscriptionReconcileJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("item failures should not fail the job: %v", err)
	}
	if syncer.limit != 10 || syncer.lookback != time.Hour {
		t.Fatalf("expected configured limit and lookback, got %d %s", syncer.limit, syncer.lookback)
	}
}

func TestSubscriptionReconcileJobPropagatesBatchError(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("boom")}
	job, err := NewSubscriptionReconcileJob(SubscriptionReconcileJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Reconciler: syncer,
	})
	if err != nil {
		t.Fatalf("NewSubscriptionReconcileJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
