package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/pitchside/pitchside-backend/internal/billing"
	"github.com/pitchside/pitchside-backend/internal/subscriptions"
	"github.com/pitchside/pitchside-backend/pkg/db/models"
	pkgerrors "github.com/pitchside/pitchside-backend/pkg/errors"
	"github.com/pitchside/pitchside-backend/pkg/logger"
)

const defaultRequestTimeout = 20 * time.Second

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Issue describes one field where the local row disagrees with the
// processor's view.
type Issue struct {
	SubscriptionID  uuid.UUID `json:"subscriptionId"`
	StripeReference string    `json:"stripeReference"`
	Field           string    `json:"field"`
	Local           string    `json:"local"`
	Remote          string    `json:"remote"`
}

// ValidationResult is the read-only diagnostic returned by Validate.
type ValidationResult struct {
	Consistent bool    `json:"consistent"`
	Issues     []Issue `json:"issues"`
}

// ItemError pairs a subscription with the error that stopped its sync.
type ItemError struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	Error          string    `json:"error"`
}

// SyncResult reports how many rows were overwritten from the processor view.
type SyncResult struct {
	Synced int         `json:"synced"`
	Failed int         `json:"failed"`
	Errors []ItemError `json:"errors"`
}

// RefreshResult combines the diagnostic and the repair it triggered.
type RefreshResult struct {
	Validation *ValidationResult `json:"validation"`
	Sync       *SyncResult       `json:"sync"`
}

// Service re-derives local subscription state from the processor.
type Service interface {
	Validate(ctx context.Context, academyID uuid.UUID) (*ValidationResult, error)
	Sync(ctx context.Context, academyID uuid.UUID) (*SyncResult, error)
	Refresh(ctx context.Context, academyID uuid.UUID) (*RefreshResult, error)
	SyncBatch(ctx context.Context, limit int, lookback time.Duration) (*SyncResult, error)
}

// ServiceParams groups dependencies for the reconciler.
type ServiceParams struct {
	BillingRepo       billing.Repository
	StripeClient      subscriptions.StripeSubscriptionClient
	TransactionRunner txRunner
	Logger            *logger.Logger
	RequestTimeout    time.Duration
}

type service struct {
	billingRepo billing.Repository
	stripe      subscriptions.StripeSubscriptionClient
	txRunner    txRunner
	logg        *logger.Logger
	timeout     time.Duration
}

// NewService builds the reconciler.
func NewService(params ServiceParams) (Service, error) {
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.StripeClient == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	timeout := params.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &service{
		billingRepo: params.BillingRepo,
		stripe:      params.StripeClient,
		txRunner:    params.TransactionRunner,
		logg:        params.Logger,
		timeout:     timeout,
	}, nil
}

// Validate compares every processor-backed subscription for the academy
// against the processor's current view. Nothing is mutated; a processor
// fetch failure is reported as an issue, not an error.
func (s *service) Validate(ctx context.Context, academyID uuid.UUID) (*ValidationResult, error) {
	if academyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "academy id is required")
	}
	subs, err := s.stripeBackedSubscriptions(ctx, academyID)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{Consistent: true, Issues: []Issue{}}
	for i := range subs {
		stored := &subs[i]
		live, err := s.fetchRemote(ctx, *stored.StripeSubscriptionID)
		if err != nil {
			result.Issues = append(result.Issues, Issue{
				SubscriptionID:  stored.ID,
				StripeReference: *stored.StripeSubscriptionID,
				Field:           "remote",
				Local:           string(stored.Status),
				Remote:          err.Error(),
			})
			continue
		}
		result.Issues = append(result.Issues, diff(stored, live)...)
	}
	result.Consistent = len(result.Issues) == 0
	return result, nil
}

// Sync overwrites local status, billing window, and auto-renew from the
// processor view for every processor-backed subscription of the academy.
// Per-item failures are accumulated; the remaining items still run.
func (s *service) Sync(ctx context.Context, academyID uuid.UUID) (*SyncResult, error) {
	if academyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "academy id is required")
	}
	subs, err := s.stripeBackedSubscriptions(ctx, academyID)
	if err != nil {
		return nil, err
	}
	return s.syncItems(ctx, subs), nil
}

// Refresh runs Validate then Sync and reports both outcomes.
func (s *service) Refresh(ctx context.Context, academyID uuid.UUID) (*RefreshResult, error) {
	validation, err := s.Validate(ctx, academyID)
	if err != nil {
		return nil, err
	}
	syncResult, err := s.Sync(ctx, academyID)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{Validation: validation, Sync: syncResult}, nil
}

// SyncBatch repairs recently-touched processor-backed subscriptions across
// all academies. It backs the scheduled reconcile job.
func (s *service) SyncBatch(ctx context.Context, limit int, lookback time.Duration) (*SyncResult, error) {
	subs, err := s.billingRepo.ListSubscriptionsForReconciliation(ctx, limit, lookback)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions for reconciliation")
	}
	return s.syncItems(ctx, subs), nil
}

func (s *service) syncItems(ctx context.Context, subs []models.Subscription) *SyncResult {
	result := &SyncResult{Errors: []ItemError{}}
	var errs error
	for i := range subs {
		stored := &subs[i]
		if err := s.syncOne(ctx, stored); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{SubscriptionID: stored.ID, Error: err.Error()})
			errs = multierr.Append(errs, err)
			continue
		}
		result.Synced++
	}
	if errs != nil {
		s.logg.Error(ctx, "subscription sync completed with failures", errs)
	}
	return result
}

func (s *service) syncOne(ctx context.Context, stored *models.Subscription) error {
	if stored.StripeSubscriptionID == nil || *stored.StripeSubscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription has no stripe reference")
	}
	live, err := s.fetchRemote(ctx, *stored.StripeSubscriptionID)
	if err != nil {
		return err
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		current, err := repo.FindSubscriptionByStripeID(ctx, *stored.StripeSubscriptionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload subscription")
		}
		if current == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription disappeared during sync")
		}
		if err := subscriptions.UpdateSubscriptionFromStripe(current, live); err != nil {
			return err
		}
		if err := repo.UpdateSubscription(ctx, current); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription")
		}
		return nil
	})
}

func (s *service) fetchRemote(ctx context.Context, stripeID string) (*stripe.Subscription, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	live, err := s.stripe.Get(callCtx, stripeID, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	if live == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stripe subscription not found")
	}
	return live, nil
}

func (s *service) stripeBackedSubscriptions(ctx context.Context, academyID uuid.UUID) ([]models.Subscription, error) {
	all, err := s.billingRepo.ListSubscriptionsByAcademy(ctx, academyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions")
	}
	backed := make([]models.Subscription, 0, len(all))
	for _, sub := range all {
		if sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID != "" {
			backed = append(backed, sub)
		}
	}
	return backed, nil
}

// diff applies the processor view to a scratch copy and reports the fields
// that would change.
func diff(stored *models.Subscription, live *stripe.Subscription) []Issue {
	scratch := *stored
	if err := subscriptions.UpdateSubscriptionFromStripe(&scratch, live); err != nil {
		return []Issue{{
			SubscriptionID:  stored.ID,
			StripeReference: *stored.StripeSubscriptionID,
			Field:           "remote",
			Remote:          err.Error(),
		}}
	}

	var issues []Issue
	add := func(field, local, remote string) {
		issues = append(issues, Issue{
			SubscriptionID:  stored.ID,
			StripeReference: *stored.StripeSubscriptionID,
			Field:           field,
			Local:           local,
			Remote:          remote,
		})
	}
	if scratch.Status != stored.Status {
		add("status", string(stored.Status), string(scratch.Status))
	}
	if scratch.AutoRenew != stored.AutoRenew {
		add("auto_renew", fmt.Sprintf("%t", stored.AutoRenew), fmt.Sprintf("%t", scratch.AutoRenew))
	}
	if !scratch.StartsAt.Equal(stored.StartsAt) {
		add("starts_at", stored.StartsAt.Format(time.RFC3339), scratch.StartsAt.Format(time.RFC3339))
	}
	if !scratch.EndsAt.Equal(stored.EndsAt) {
		add("ends_at", stored.EndsAt.Format(time.RFC3339), scratch.EndsAt.Format(time.RFC3339))
	}
	return issues
}
