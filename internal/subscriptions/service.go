package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/pitchside/pitchside-backend/internal/billing"
	"github.com/pitchside/pitchside-backend/pkg/db/models"
	"github.com/pitchside/pitchside-backend/pkg/enums"
	pkgerrors "github.com/pitchside/pitchside-backend/pkg/errors"
	"github.com/pitchside/pitchside-backend/pkg/outbox"
	"github.com/pitchside/pitchside-backend/pkg/outbox/payloads"
)

type academyRepository interface {
	FindByIDWithTx(tx *gorm.DB, id uuid.UUID) (*models.Academy, error)
}

type planResolver interface {
	Resolve(ctx context.Context, identifier string) (*models.Plan, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service defines the subscription lifecycle surface.
type Service interface {
	Upgrade(ctx context.Context, academyID uuid.UUID, input UpgradeInput) (*UpgradeResult, error)
	Cancel(ctx context.Context, academyID uuid.UUID, input CancelInput) error
	GetActive(ctx context.Context, academyID uuid.UUID) (*models.Subscription, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	BillingRepo       billing.Repository
	AcademyRepo       academyRepository
	Plans             planResolver
	Outbox            outboxEmitter
	StripeClient      StripeSubscriptionClient
	TransactionRunner txRunner
	DefaultCurrency   string
}

// UpgradeInput captures an admin-initiated plan change.
type UpgradeInput struct {
	PlanIdentifier   string
	PaymentMethod    enums.PaymentMethod
	PaymentReference string
	Notes            string
	Actor            *outbox.ActorRef
}

// CancelInput captures an admin-initiated cancellation.
type CancelInput struct {
	Reason string
	Actor  *outbox.ActorRef
}

// UpgradeResult reports the subscription and ledger rows written by an upgrade.
type UpgradeResult struct {
	Subscription *models.Subscription
	Plan         *models.Plan
	Payment      *models.Payment
	Replaced     bool
}

type service struct {
	billingRepo billing.Repository
	academyRepo academyRepository
	plans       planResolver
	outbox      outboxEmitter
	stripe      StripeSubscriptionClient
	txRunner    txRunner
	currency    string
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.AcademyRepo == nil {
		return nil, fmt.Errorf("academy repo required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan resolver required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	currency := strings.ToUpper(strings.TrimSpace(params.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}
	return &service{
		billingRepo: params.BillingRepo,
		academyRepo: params.AcademyRepo,
		plans:       params.Plans,
		outbox:      params.Outbox,
		stripe:      params.StripeClient,
		txRunner:    params.TransactionRunner,
		currency:    currency,
	}, nil
}

// Upgrade moves the academy onto the requested plan atomically: the current
// live subscription is demoted, the replacement row, ledger entry, and audit
// entry are written in the same transaction.
func (s *service) Upgrade(ctx context.Context, academyID uuid.UUID, input UpgradeInput) (*UpgradeResult, error) {
	if academyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "academy id is required")
	}
	if strings.TrimSpace(input.PlanIdentifier) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan identifier is required")
	}
	if input.PaymentMethod != "" && !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}

	plan, err := s.plans.Resolve(ctx, input.PlanIdentifier)
	if err != nil {
		return nil, err
	}
	if plan.Status != enums.PlanStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "plan is not open for new subscriptions")
	}

	// A processor-managed predecessor is canceled at Stripe before the
	// local swap, the same ordering Cancel uses, so a later webhook for it
	// cannot resurrect a demoted row.
	replaced, err := s.billingRepo.FindCurrentByAcademy(ctx, academyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup current subscription")
	}
	if replaced != nil && replaced.PlanID == plan.ID && replaced.Status == enums.SubscriptionStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "academy is already on the requested plan")
	}
	if replaced != nil && replaced.StripeSubscriptionID != nil && *replaced.StripeSubscriptionID != "" {
		if s.stripe == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe client not configured")
		}
		if _, err := s.stripe.Cancel(ctx, *replaced.StripeSubscriptionID, nil); err != nil {
			if !isStripeMissing(err) {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel stripe subscription")
			}
		}
	}

	result := &UpgradeResult{Plan: plan}
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.loadAcademy(tx, academyID); err != nil {
			return err
		}
		repo := s.billingRepo.WithTx(tx)

		current, err := repo.FindCurrentByAcademy(ctx, academyID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup current subscription")
		}
		if current != nil && current.PlanID == plan.ID && current.Status == enums.SubscriptionStatusActive {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "academy is already on the requested plan")
		}

		now := time.Now().UTC()
		if _, err := repo.DemoteCurrent(ctx, academyID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "demote current subscription")
		}

		sub := &models.Subscription{
			ID:        uuid.New(),
			AcademyID: academyID,
			PlanID:    plan.ID,
			Status:    enums.SubscriptionStatusActive,
			StartsAt:  now,
			EndsAt:    validityWindow(plan, now),
			AutoRenew: true,
		}
		if err := repo.CreateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
		}

		action := enums.HistoryActionCreated
		var oldPlanID *uuid.UUID
		if current != nil {
			action = enums.HistoryActionUpgraded
			planID := current.PlanID
			oldPlanID = &planID
			result.Replaced = true
		}
		newPlanID := plan.ID
		entry := &models.SubscriptionHistory{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			Action:         action,
			OldPlanID:      oldPlanID,
			NewPlanID:      &newPlanID,
			Notes:          trimmedPtr(input.Notes),
		}
		if err := repo.CreateHistoryEntry(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record history")
		}

		payment := s.buildUpgradePayment(plan, sub, input)
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventSubscriptionActivated,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   sub.ID,
			Actor:         input.Actor,
			Version:       1,
			Data: payloads.SubscriptionActivatedEvent{
				SubscriptionID: sub.ID,
				AcademyID:      academyID,
				PlanID:         plan.ID,
				PlanCode:       plan.Code,
				Status:         sub.Status,
				StartsAt:       sub.StartsAt,
				EndsAt:         &sub.EndsAt,
			},
		}); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventPaymentRecorded,
			AggregateType: enums.OutboxAggregatePayment,
			AggregateID:   payment.ID,
			Actor:         input.Actor,
			Version:       1,
			Data: payloads.PaymentRecordedEvent{
				PaymentID:      payment.ID,
				AcademyID:      academyID,
				SubscriptionID: payment.SubscriptionID,
				Amount:         payment.Amount.StringFixed(2),
				CurrencyCode:   payment.CurrencyCode,
				Method:         payment.Method,
				Status:         payment.Status,
				RecordedAt:     now,
			},
		}); err != nil {
			return err
		}

		result.Subscription = sub
		result.Payment = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel ends the academy's live subscription. Processor-managed
// subscriptions are canceled at Stripe first so the webhook stream and the
// local row cannot drift in opposite directions.
func (s *service) Cancel(ctx context.Context, academyID uuid.UUID, input CancelInput) error {
	if academyID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "academy id is required")
	}

	current, err := s.billingRepo.FindCurrentByAcademy(ctx, academyID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup current subscription")
	}
	if current == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
	}

	if current.StripeSubscriptionID != nil && *current.StripeSubscriptionID != "" {
		if s.stripe == nil {
			return pkgerrors.New(pkgerrors.CodeDependency, "stripe client not configured")
		}
		if _, err := s.stripe.Cancel(ctx, *current.StripeSubscriptionID, nil); err != nil {
			if !isStripeMissing(err) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel stripe subscription")
			}
		}
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		stored, err := repo.FindCurrentByAcademy(ctx, academyID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup current subscription")
		}
		if stored == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
		}

		now := time.Now().UTC()
		stored.Status = enums.SubscriptionStatusCanceled
		stored.AutoRenew = false
		stored.EndsAt = now
		if err := repo.UpdateSubscription(ctx, stored); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist cancellation")
		}

		planID := stored.PlanID
		entry := &models.SubscriptionHistory{
			ID:             uuid.New(),
			SubscriptionID: stored.ID,
			Action:         enums.HistoryActionCanceled,
			OldPlanID:      &planID,
			Notes:          trimmedPtr(input.Reason),
		}
		if err := repo.CreateHistoryEntry(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record history")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventSubscriptionCanceled,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   stored.ID,
			Actor:         input.Actor,
			Version:       1,
			Data: payloads.SubscriptionCanceledEvent{
				SubscriptionID: stored.ID,
				AcademyID:      academyID,
				PlanID:         stored.PlanID,
				Status:         stored.Status,
				CanceledAt:     now,
				Reason:         strings.TrimSpace(input.Reason),
			},
		})
	})
}

// GetActive returns the academy's live subscription, or nil when there is none.
func (s *service) GetActive(ctx context.Context, academyID uuid.UUID) (*models.Subscription, error) {
	if academyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "academy id is required")
	}
	sub, err := s.billingRepo.FindCurrentByAcademy(ctx, academyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup current subscription")
	}
	return sub, nil
}

func (s *service) loadAcademy(tx *gorm.DB, academyID uuid.UUID) (*models.Academy, error) {
	academy, err := s.academyRepo.FindByIDWithTx(tx, academyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load academy")
	}
	if academy == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "academy not found")
	}
	return academy, nil
}

func (s *service) buildUpgradePayment(plan *models.Plan, sub *models.Subscription, input UpgradeInput) *models.Payment {
	method := input.PaymentMethod
	if method == "" {
		method = enums.PaymentMethodCard
	}
	status := enums.PaymentStatusCompleted
	if method.RequiresConfirmation() {
		status = enums.PaymentStatusPending
	}
	if plan.IsFree() {
		method = enums.PaymentMethodFree
		status = enums.PaymentStatusCompleted
	}

	currency := plan.CurrencyCode
	if currency == "" {
		currency = s.currency
	}
	subID := sub.ID
	return &models.Payment{
		ID:              uuid.New(),
		AcademyID:       sub.AcademyID,
		SubscriptionID:  &subID,
		Amount:          plan.PriceAmount,
		CurrencyCode:    currency,
		Method:          method,
		Status:          status,
		StripeReference: trimmedPtr(input.PaymentReference),
	}
}

// validityWindow derives the paid-through date from the plan cadence.
// Interval-less plans default to a monthly window.
func validityWindow(plan *models.Plan, from time.Time) time.Time {
	if plan.Interval != nil && *plan.Interval == enums.BillingIntervalYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

func isStripeMissing(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Code == stripe.ErrorCodeResourceMissing
}

func trimmedPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
