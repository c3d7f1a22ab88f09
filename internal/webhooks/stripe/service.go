package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/pitchside/pitchside-backend/internal/billing"
	"github.com/pitchside/pitchside-backend/internal/subscriptions"
	"github.com/pitchside/pitchside-backend/pkg/db/models"
	"github.com/pitchside/pitchside-backend/pkg/enums"
	pkgerrors "github.com/pitchside/pitchside-backend/pkg/errors"
	"github.com/pitchside/pitchside-backend/pkg/logger"
	"github.com/pitchside/pitchside-backend/pkg/metrics"
	"github.com/pitchside/pitchside-backend/pkg/outbox"
	"github.com/pitchside/pitchside-backend/pkg/outbox/payloads"
)

type academyRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Academy, error)
	FindByContactEmail(ctx context.Context, email string) (*models.Academy, error)
	FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Academy, error)
	UpdateStripeCustomerID(ctx context.Context, academyID uuid.UUID, customerID string) error
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

type ServiceParams struct {
	BillingRepo       billing.Repository
	AcademyRepo       academyRepository
	Plans             planResolver
	Outbox            outboxEmitter
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.WebhookMetrics
}

type Service struct {
	billingRepo billing.Repository
	academyRepo academyRepository
	plans       planResolver
	outbox      outboxEmitter
	txRunner    txRunner
	logg        *logger.Logger
	metrics     *metrics.WebhookMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.AcademyRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "academy repo required")
	}
	if params.Plans == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan resolver required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		billingRepo: params.BillingRepo,
		academyRepo: params.AcademyRepo,
		plans:       params.Plans,
		outbox:      params.Outbox,
		txRunner:    params.TransactionRunner,
		logg:        params.Logger,
		metrics:     params.Metrics,
	}, nil
}

// invoicePayload carries the invoice fields the ingestor needs. Newer Stripe
// API versions move the subscription reference under parent.
type invoicePayload struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	AmountPaid   int64  `json:"amount_paid"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (p invoicePayload) subscriptionRef() string {
	if p.Subscription != "" {
		return p.Subscription
	}
	if p.Parent != nil && p.Parent.SubscriptionDetails != nil {
		return p.Parent.SubscriptionDetails.Subscription
	}
	return ""
}

type paymentIntentPayload struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

// HandleEvent applies one verified Stripe event. Events referencing unknown
// local rows are logged and acknowledged so a poison delivery cannot block
// the queue; every handler tolerates redelivery of the same event.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	eventType := string(event.Type)
	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"stripe_event_type": eventType,
	})

	if err := s.dispatch(ctx, event); err != nil {
		s.metrics.IncFailed(eventType)
		return err
	}
	s.metrics.IncProcessed(eventType)
	return nil
}

func (s *Service) dispatch(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var stripeSub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
		}
		deleted := event.Type == stripe.EventTypeCustomerSubscriptionDeleted
		return s.syncSubscription(ctx, &stripeSub, eventTime(event), deleted)
	case stripe.EventTypeInvoicePaid:
		return s.handleInvoice(ctx, event, true)
	case stripe.EventTypeInvoicePaymentFailed:
		return s.handleInvoice(ctx, event, false)
	case stripe.EventTypeCustomerCreated:
		return s.handleCustomerCreated(ctx, event)
	case stripe.EventTypePaymentIntentSucceeded:
		return s.handlePaymentIntent(ctx, event, true)
	case stripe.EventTypePaymentIntentPaymentFailed:
		return s.handlePaymentIntent(ctx, event, false)
	default:
		s.skip(ctx, event, "unhandled_type", "ignoring unhandled stripe event type")
		return nil
	}
}

func (s *Service) syncSubscription(ctx context.Context, stripeSub *stripe.Subscription, eventAt time.Time, deleted bool) error {
	if stripeSub == nil || stripeSub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeID(ctx, stripeSub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription")
		}
		if stored == nil {
			if deleted {
				s.skip(ctx, nil, "unknown_reference", "deletion for unknown stripe subscription")
				return nil
			}
			return s.adoptSubscription(ctx, tx, repo, stripeSub, eventAt)
		}
		if subscriptions.StaleEvent(stored, eventAt) {
			s.skip(ctx, nil, "stale_event", "event predates last applied state")
			return nil
		}

		prevStatus := stored.Status
		if deleted {
			stored.Status = enums.SubscriptionStatusCanceled
			stored.AutoRenew = false
		} else if err := subscriptions.UpdateSubscriptionFromStripe(stored, stripeSub); err != nil {
			return err
		}

		// A demoted row must not retake the academy's single live slot
		// because a late processor event says so; the replacement owns it.
		if !subscriptions.IsLiveStatus(prevStatus) && subscriptions.IsLiveStatus(stored.Status) {
			current, err := repo.FindCurrentByAcademy(ctx, stored.AcademyID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup current subscription")
			}
			if current != nil && current.ID != stored.ID {
				s.skip(ctx, nil, "superseded", "event would re-activate a replaced subscription")
				return nil
			}
		}
		if !eventAt.IsZero() {
			stored.LastEventAt = &eventAt
		}
		if err := repo.UpdateSubscription(ctx, stored); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription")
		}

		action := enums.HistoryActionUpdated
		if deleted {
			action = enums.HistoryActionCanceled
		}
		note := "processor status " + string(stored.Status)
		planID := stored.PlanID
		if err := repo.CreateHistoryEntry(ctx, &models.SubscriptionHistory{
			ID:             uuid.New(),
			SubscriptionID: stored.ID,
			Action:         action,
			OldPlanID:      &planID,
			NewPlanID:      &planID,
			Notes:          &note,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record history")
		}

		return s.emitTransition(ctx, tx, stored, prevStatus, eventAt)
	})
}

// adoptSubscription creates the local row for a processor subscription first
// seen via webhook, typically right after checkout completion.
func (s *Service) adoptSubscription(ctx context.Context, tx *gorm.DB, repo billing.Repository, stripeSub *stripe.Subscription, eventAt time.Time) error {
	academy, err := s.resolveAcademy(ctx, stripeSub)
	if err != nil {
		return err
	}
	if academy == nil {
		s.skip(ctx, nil, "unknown_reference", "subscription event matches no academy")
		return nil
	}
	academyID := academy.ID

	planRef := strings.TrimSpace(stripeSub.Metadata["plan_id"])
	if planRef == "" {
		s.skip(ctx, nil, "unknown_reference", "subscription event without plan metadata")
		return nil
	}
	plan, err := s.plans.Resolve(ctx, planRef)
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound {
			s.skip(ctx, nil, "unknown_reference", "subscription event for unknown plan")
			return nil
		}
		return err
	}

	built, err := subscriptions.BuildSubscriptionFromStripe(stripeSub, academyID, plan.ID)
	if err != nil {
		return err
	}
	built.ID = uuid.New()
	if !eventAt.IsZero() {
		built.LastEventAt = &eventAt
	}

	if subscriptions.IsLiveStatus(built.Status) {
		if _, err := repo.DemoteCurrent(ctx, academyID, time.Now().UTC()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "demote current subscription")
		}
	}
	if err := repo.CreateSubscription(ctx, built); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
	}

	newPlanID := plan.ID
	if err := repo.CreateHistoryEntry(ctx, &models.SubscriptionHistory{
		ID:             uuid.New(),
		SubscriptionID: built.ID,
		Action:         enums.HistoryActionCreated,
		NewPlanID:      &newPlanID,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record history")
	}

	if subscriptions.IsLiveStatus(built.Status) {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventSubscriptionActivated,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   built.ID,
			Version:       1,
			Data: payloads.SubscriptionActivatedEvent{
				SubscriptionID: built.ID,
				AcademyID:      academyID,
				PlanID:         plan.ID,
				PlanCode:       plan.Code,
				Status:         built.Status,
				StartsAt:       built.StartsAt,
				EndsAt:         &built.EndsAt,
			},
		})
	}
	return nil
}

// resolveAcademy prefers the customer handle the academy adopted at signup;
// academy_id metadata remains the fallback for subscriptions created before a
// handle was recorded. Returns nil when neither route matches an academy.
func (s *Service) resolveAcademy(ctx context.Context, stripeSub *stripe.Subscription) (*models.Academy, error) {
	if stripeSub.Customer != nil && stripeSub.Customer.ID != "" {
		academy, err := s.academyRepo.FindByStripeCustomerID(ctx, stripeSub.Customer.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup academy by customer handle")
		}
		if academy != nil {
			return academy, nil
		}
	}
	academyID, err := subscriptions.AcademyIDFromMetadata(stripeSub.Metadata)
	if err != nil {
		return nil, nil
	}
	academy, err := s.academyRepo.FindByID(ctx, academyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load academy")
	}
	return academy, nil
}

func (s *Service) handleInvoice(ctx context.Context, event *stripe.Event, paid bool) error {
	var invoice invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice event")
	}
	subRef := invoice.subscriptionRef()
	if subRef == "" {
		s.skip(ctx, event, "unknown_reference", "invoice without subscription reference")
		return nil
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeID(ctx, subRef)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription")
		}
		if stored == nil {
			s.skip(ctx, event, "unknown_reference", "invoice for unknown subscription")
			return nil
		}

		existing, err := repo.FindPaymentByStripeReference(ctx, invoice.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payment")
		}
		if existing != nil {
			s.skip(ctx, event, "duplicate", "invoice already recorded")
			return nil
		}

		amount := invoice.AmountPaid
		status := enums.PaymentStatusCompleted
		if !paid {
			amount = invoice.AmountDue
			status = enums.PaymentStatusFailed
		}
		reference := invoice.ID
		subID := stored.ID
		payment := &models.Payment{
			ID:              uuid.New(),
			AcademyID:       stored.AcademyID,
			SubscriptionID:  &subID,
			Amount:          decimal.New(amount, -2),
			CurrencyCode:    strings.ToUpper(invoice.Currency),
			Method:          enums.PaymentMethodCard,
			Status:          status,
			StripeReference: &reference,
		}
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment")
		}

		if !paid && stored.Status == enums.SubscriptionStatusActive {
			stored.Status = enums.SubscriptionStatusPastDue
			if err := repo.UpdateSubscription(ctx, stored); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "demote to past due")
			}
			planID := stored.PlanID
			note := "renewal payment failed"
			if err := repo.CreateHistoryEntry(ctx, &models.SubscriptionHistory{
				ID:             uuid.New(),
				SubscriptionID: stored.ID,
				Action:         enums.HistoryActionUpdated,
				OldPlanID:      &planID,
				NewPlanID:      &planID,
				Notes:          &note,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record history")
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.OutboxEventSubscriptionPastDue,
				AggregateType: enums.OutboxAggregateSubscription,
				AggregateID:   stored.ID,
				Version:       1,
				Data: payloads.SubscriptionPastDueEvent{
					SubscriptionID: stored.ID,
					AcademyID:      stored.AcademyID,
					PlanID:         stored.PlanID,
					FailedAt:       eventTime(event),
				},
			}); err != nil {
				return err
			}
		}

		return s.emitPaymentRecorded(ctx, tx, payment)
	})
}

func (s *Service) handleCustomerCreated(ctx context.Context, event *stripe.Event) error {
	var customer stripe.Customer
	if err := json.Unmarshal(event.Data.Raw, &customer); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode customer event")
	}
	if customer.ID == "" || customer.Email == "" {
		s.skip(ctx, event, "unknown_reference", "customer event without id or email")
		return nil
	}

	academy, err := s.academyRepo.FindByContactEmail(ctx, customer.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.skip(ctx, event, "unknown_reference", "customer email matches no academy")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup academy")
	}
	if academy.StripeCustomerID != nil && *academy.StripeCustomerID != "" {
		s.skip(ctx, event, "duplicate", "academy already carries a customer handle")
		return nil
	}
	if err := s.academyRepo.UpdateStripeCustomerID(ctx, academy.ID, customer.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist customer handle")
	}
	return nil
}

func (s *Service) handlePaymentIntent(ctx context.Context, event *stripe.Event, succeeded bool) error {
	var intent paymentIntentPayload
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
	}
	academyRef := strings.TrimSpace(intent.Metadata["academy_id"])
	if academyRef == "" {
		s.skip(ctx, event, "unknown_reference", "payment intent without academy metadata")
		return nil
	}
	academyID, err := uuid.Parse(academyRef)
	if err != nil {
		s.skip(ctx, event, "unknown_reference", "payment intent with malformed academy metadata")
		return nil
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		existing, err := repo.FindPaymentByStripeReference(ctx, intent.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payment")
		}
		if existing != nil {
			s.skip(ctx, event, "duplicate", "payment intent already recorded")
			return nil
		}

		status := enums.PaymentStatusCompleted
		if !succeeded {
			status = enums.PaymentStatusFailed
		}
		reference := intent.ID
		payment := &models.Payment{
			ID:              uuid.New(),
			AcademyID:       academyID,
			Amount:          decimal.New(intent.Amount, -2),
			CurrencyCode:    strings.ToUpper(intent.Currency),
			Method:          enums.PaymentMethodCard,
			Status:          status,
			StripeReference: &reference,
		}
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment")
		}
		return s.emitPaymentRecorded(ctx, tx, payment)
	})
}

func (s *Service) emitTransition(ctx context.Context, tx *gorm.DB, sub *models.Subscription, prev enums.SubscriptionStatus, eventAt time.Time) error {
	if sub.Status == prev {
		return nil
	}
	at := eventAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	switch sub.Status {
	case enums.SubscriptionStatusCanceled, enums.SubscriptionStatusExpired:
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventSubscriptionCanceled,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   sub.ID,
			Version:       1,
			Data: payloads.SubscriptionCanceledEvent{
				SubscriptionID: sub.ID,
				AcademyID:      sub.AcademyID,
				PlanID:         sub.PlanID,
				Status:         sub.Status,
				CanceledAt:     at,
			},
		})
	case enums.SubscriptionStatusPastDue:
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventSubscriptionPastDue,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   sub.ID,
			Version:       1,
			Data: payloads.SubscriptionPastDueEvent{
				SubscriptionID: sub.ID,
				AcademyID:      sub.AcademyID,
				PlanID:         sub.PlanID,
				FailedAt:       at,
			},
		})
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing:
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventSubscriptionActivated,
			AggregateType: enums.OutboxAggregateSubscription,
			AggregateID:   sub.ID,
			Version:       1,
			Data: payloads.SubscriptionActivatedEvent{
				SubscriptionID: sub.ID,
				AcademyID:      sub.AcademyID,
				PlanID:         sub.PlanID,
				Status:         sub.Status,
				StartsAt:       sub.StartsAt,
				EndsAt:         &sub.EndsAt,
			},
		})
	default:
		return nil
	}
}

func (s *Service) emitPaymentRecorded(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.OutboxEventPaymentRecorded,
		AggregateType: enums.OutboxAggregatePayment,
		AggregateID:   payment.ID,
		Version:       1,
		Data: payloads.PaymentRecordedEvent{
			PaymentID:      payment.ID,
			AcademyID:      payment.AcademyID,
			SubscriptionID: payment.SubscriptionID,
			Amount:         payment.Amount.StringFixed(2),
			CurrencyCode:   payment.CurrencyCode,
			Method:         payment.Method,
			Status:         payment.Status,
			RecordedAt:     time.Now().UTC(),
		},
	})
}

func (s *Service) skip(ctx context.Context, event *stripe.Event, reason, msg string) {
	eventType := ""
	if event != nil {
		eventType = string(event.Type)
	}
	s.metrics.IncSkipped(eventType, reason)
	s.logg.Warn(ctx, msg)
}

func eventTime(event *stripe.Event) time.Time {
	if event == nil || event.Created == 0 {
		return time.Time{}
	}
	return time.Unix(event.Created, 0).UTC()
}
