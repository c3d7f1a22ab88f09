package stripewebhook

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/pitchside/pitchside-backend/internal/billing"
	"github.com/pitchside/pitchside-backend/pkg/db/models"
	"github.com/pitchside/pitchside-backend/pkg/enums"
	"github.com/pitchside/pitchside-backend/pkg/logger"
	"github.com/pitchside/pitchside-backend/pkg/outbox"
	"github.com/pitchside/pitchside-backend/pkg/pagination"
)

type stubBillingRepo struct {
	stored      *models.Subscription
	current     *models.Subscription
	payments    map[string]*models.Payment
	createdSubs []*models.Subscription
	updatedSubs []*models.Subscription
	newPayments []*models.Payment
	history     []*models.SubscriptionHistory
	demoted     int
}

func newStubBillingRepo(stored *models.Subscription) *stubBillingRepo {
	return &stubBillingRepo{stored: stored, payments: map[string]*models.Payment{}}
}

func (s *stubBillingRepo) WithTx(tx *gorm.DB) billing.Repository { return s }

func (s *stubBillingRepo) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	s.createdSubs = append(s.createdSubs, sub)
	return nil
}

func (s *stubBillingRepo) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	s.updatedSubs = append(s.updatedSubs, sub)
	return nil
}

func (s *stubBillingRepo) FindCurrentByAcademy(ctx context.Context, academyID uuid.UUID) (*models.Subscription, error) {
	return s.current, nil
}

func (s *stubBillingRepo) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if s.stored != nil && s.stored.StripeSubscriptionID != nil && *s.stored.StripeSubscriptionID == stripeSubscriptionID {
		return s.stored, nil
	}
	return nil, nil
}

func (s *stubBillingRepo) ListSubscriptionsByAcademy(ctx context.Context, academyID uuid.UUID) ([]models.Subscription, error) {
	return nil, nil
}

func (s *stubBillingRepo) ListSubscriptionsForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.Subscription, error) {
	return nil, nil
}

func (s *stubBillingRepo) DemoteCurrent(ctx context.Context, academyID uuid.UUID, canceledAt time.Time) (int64, error) {
	s.demoted++
	return 0, nil
}

func (s *stubBillingRepo) CreatePayment(ctx context.Context, payment *models.Payment) error {
	s.newPayments = append(s.newPayments, payment)
	if payment.StripeReference != nil {
		s.payments[*payment.StripeReference] = payment
	}
	return nil
}

func (s *stubBillingRepo) FindPaymentByStripeReference(ctx context.Context, reference string) (*models.Payment, error) {
	return s.payments[reference], nil
}

func (s *stubBillingRepo) ListPayments(ctx context.Context, params billing.ListPaymentsQuery) ([]models.Payment, *pagination.Cursor, error) {
	return nil, nil, nil
}

func (s *stubBillingRepo) CreateHistoryEntry(ctx context.Context, entry *models.SubscriptionHistory) error {
	s.history = append(s.history, entry)
	return nil
}

func (s *stubBillingRepo) ListHistoryBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionHistory, error) {
	return nil, nil
}

type stubAcademyRepo struct {
	academy *models.Academy
	handles []string
}

func (s *stubAcademyRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Academy, error) {
	if s.academy == nil || s.academy.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return s.academy, nil
}

func (s *stubAcademyRepo) FindByContactEmail(ctx context.Context, email string) (*models.Academy, error) {
	if s.academy == nil || s.academy.ContactEmail != email {
		return nil, gorm.ErrRecordNotFound
	}
	return s.academy, nil
}

func (s *stubAcademyRepo) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Academy, error) {
	if customerID == "" || s.academy == nil || s.academy.StripeCustomerID == nil || *s.academy.StripeCustomerID != customerID {
		return nil, nil
	}
	return s.academy, nil
}

func (s *stubAcademyRepo) UpdateStripeCustomerID(ctx context.Context, academyID uuid.UUID, customerID string) error {
	s.handles = append(s.handles, customerID)
	return nil
}

type stubPlanResolver struct {
	plan *models.Plan
}

func (s *stubPlanResolver) Resolve(ctx context.Context, identifier string) (*models.Plan, error) {
	return s.plan, nil
}

type stubOutbox struct {
	events []outbox.DomainEvent
}

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type stubTxRunner struct{}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

func newWebhookService(t *testing.T, repo *stubBillingRepo, academies *stubAcademyRepo, plans *stubPlanResolver, box *stubOutbox) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		BillingRepo:       repo,
		AcademyRepo:       academies,
		Plans:             plans,
		Outbox:            box,
		TransactionRunner: &stubTxRunner{},
		Logger:            logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return svc
}

func stripeEvent(t *testing.T, eventType stripe.EventType, created time.Time, payload any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &stripe.Event{
		ID:      "evt_" + uuid.NewString(),
		Type:    eventType,
		Created: created.Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
}

func subscriptionPayload(id string, status string, academyID, planID uuid.UUID, periodStart, periodEnd time.Time) map[string]any {
	return map[string]any{
		"id":     id,
		"status": status,
		"metadata": map[string]string{
			"academy_id": academyID.String(),
			"plan_id":    planID.String(),
		},
		"items": map[string]any{
			"data": []map[string]any{
				{
					"current_period_start": periodStart.Unix(),
					"current_period_end":   periodEnd.Unix(),
				},
			},
		},
	}
}

func TestSubscriptionCreatedAdoptsRow(t *testing.T) {
	academy := &models.Academy{ID: uuid.New(), ContactEmail: "billing@club.example"}
	plan := &models.Plan{ID: uuid.New(), Code: "pro", Status: enums.PlanStatusActive}
	repo := newStubBillingRepo(nil)
	box := &stubOutbox{}
	svc := newWebhookService(t, repo, &stubAcademyRepo{academy: academy}, &stubPlanResolver{plan: plan}, box)

	now := time.Now().UTC().Truncate(time.Second)
	event := stripeEvent(t, stripe.EventTypeCustomerSubscriptionCreated, now,
		subscriptionPayload("sub_new", "active", academy.ID, plan.ID, now, now.AddDate(0, 1, 0)))

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(repo.createdSubs) != 1 {
		t.Fatalf("expected adopted subscription")
	}
	created := repo.createdSubs[0]
	if created.AcademyID != academy.ID || created.PlanID != plan.ID {
		t.Fatalf("unexpected ownership %+v", created)
	}
	if created.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", created.Status)
	}
	if repo.demoted != 1 {
		t.Fatalf("adopting a live subscription must demote the prior one")
	}
	if len(repo.history) != 1 || repo.history[0].Action != enums.HistoryActionCreated {
		t.Fatalf("expected created history entry")
	}
	if len(box.events) != 1 || box.events[0].EventType != enums.OutboxEventSubscriptionActivated {
		t.Fatalf("expected activated event emitted")
	}
}

func TestSubscriptionCreatedUnknownAcademyAcked(t *testing.T) {
	repo := newStubBillingRepo(nil)
	svc := newWebhookService(t, repo, &stubAcademyRepo{}, &stubPlanResolver{plan: &models.Plan{ID: uuid.New()}}, &stubOutbox{})

	now := time.Now().UTC()
	event := stripeEvent(t, stripe.EventTypeCustomerSubscriptionCreated, now,
		subscriptionPayload("sub_orphan", "active", uuid.New(), uuid.New(), now, now.AddDate(0, 1, 0)))

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unknown academy must be acknowledged, got %v", err)
	}
	if len(repo.createdSubs) != 0 {
		t.Fatalf("no row should be created for an unknown academy")
	}
}

func TestSubscriptionCreatedResolvesAcademyByCustomerHandle(t *testing.T) {
	handle := "cus_club"
	academy := &models.Academy{ID: uuid.New(), ContactEmail: "billing@club.example", StripeCustomerID: &handle}
	plan := &models.Plan{ID: uuid.New(), Code: "pro", Status: enums.PlanStatusActive}
	repo := newStubBillingRepo(nil)
	svc := newWebhookService(t, repo, &stubAcademyRepo{academy: academy}, &stubPlanResolver{plan: plan}, &stubOutbox{})

	now := time.Now().UTC().Truncate(time.Second)
	event := stripeEvent(t, stripe.EventTypeCustomerSubscriptionCreated, now, map[string]any{
		"id":       "sub_handle",
		"status":   "active",
		"customer": handle,
		"metadata": map[string]string{"plan_id": plan.ID.String()},
		"items": map[string]any{
			"data": []map[string]any{
				{
					"current_period_start": now.Unix(),
					"current_period_end":   now.AddDate(0, 1, 0).Unix(),
				},
			},
		},
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(repo.createdSubs) != 1 {
		t.Fatalf("expected adopted subscription")
	}
	if repo.createdSubs[0].AcademyID != academy.ID {
		t.Fatalf("expected academy resolved from customer handle, got %s", repo.createdSubs[0].AcademyID)
	}
}

func TestSubscriptionUpdatedAppliesState(t *testing.T) {
	stripeID := "sub_live"
	applied := time.Now().UTC().Add(-time.Hour)
	stored := &models.Subscription{
		ID:                   uuid.New(),
		AcademyID:            uuid.New(),
		PlanID:               uuid.New(),
		Status:               enums.SubscriptionStatusActive,
		AutoRenew:            true,
		StripeSubscriptionID: &stripeID,
		LastEventAt:          &applied,
	}
	repo := newStubBillingRepo(stored)
	box := &stubOutbox{}
	svc := newWebhookService(t, repo, &stubAcademyRepo{}, &stubPlanResolver{}, box)

	now := time.Now().UTC().Truncate(time.Second)
	event := stripeEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, now,
		subscriptionPayload(stripeID, "past_due", stored.AcademyID, stored.PlanID, now, now.AddDate(0, 1, 0)))

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(repo.updatedSubs) != 1 || repo.updatedSubs[0].Status != enums.SubscriptionStatusPastDue {
		t.Fatalf("expected past due applied")
	}
	if stored.LastEventAt == nil || !stored.LastEventAt.Equal(now) {
		t.Fatalf("expected event timestamp advanced")
	}
	if len(repo.history) != 1 || repo.history[0].Action != enums.HistoryActionUpdated {
		t.Fatalf("expected updated history entry")
	}
	if len(box.events) != 1 || box.events[0].EventType != enums.OutboxEventSubscriptionPastDue {
		t.Fatalf("expected past due event emitted")
	}
}

func TestSubscriptionUpdateIgnoresStaleEvent(t *testing.T) {
	stripeID := "sub_live"
	applied := time.Now().UTC()
	stored := &models.Subscription{
		ID:                   uuid.New(),
		Status:               enums.SubscriptionStatusActive,
		StripeSubscriptionID: &stripeID,
		LastEventAt:          &applied,
	}
	repo := newStubBillingRepo(stored)
	svc := newWebhookService(t, repo, &stubAcademyRepo{}, &stubPlanResolver{}, &stubOutbox{})

	stale := applied.Add(-time.Hour)
	event := stripeEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, stale,
		subscriptionPayload(stripeID, "canceled", uuid.New(), uuid.New(), stale, stale.AddDate(0, 1, 0)))

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("stale event must be acknowledged, got %v", err)
	}
	if len(repo.updatedSubs) != 0 {
		t.Fatalf("stale event must not overwrite newer state")
	}
	if stored.Status != enums.SubscriptionStatusActive {
		t.Fatalf("status should be untouched, got %s", stored.Status)
	}
}

func TestSubscriptionUpdateDoesNotResurrectReplacedRow(t *testing.T) {
	stripeID := "sub_replaced"
	academyID := uuid.New()
	stored := &models.Subscription{
		ID:                   uuid.New(),
		AcademyID:            academyID,
		PlanID:               uuid.New(),
		Status:               enums.SubscriptionStatusCanceled,
		StripeSubscriptionID: &stripeID,
	}
	repo := newStubBillingRepo(stored)
	repo.current = &models.Subscription{
		ID:        uuid.New(),
		AcademyID: academyID,
		Status:    enums.SubscriptionStatusActive,
	}
	box := &stubOutbox{}
	svc := newWebhookService(t, repo, &stubAcademyRepo{}, &stubPlanResolver{}, box)

	now := time.Now().UTC().Truncate(time.Second)
	event := stripeEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, now,
		subscriptionPayload(stripeID, "active", academyID, stored.PlanID, now, now.AddDate(0, 1, 0)))

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("superseded event must be acknowledged, got %v", err)
	}
	if len(repo.updatedSubs) != 0 {
		t.Fatalf("replaced subscription must not retake the live slot")
	}
	if len(box.events) != 0 {
		t.Fatalf("no transition event should be emitted for a superseded row")
	}
}

func TestSubscriptionUpdateReactivatesVacantSlot(t *testing.T) {
	stripeID := "sub_back"
	academyID := uuid.New()
	stored := &models.Subscription{
		ID:                   uuid.New(),
		AcademyID:            academyID,
		PlanID:               uuid.New(),
		Status:               enums.SubscriptionStatusCanceled,
		StripeSubscriptionID: &stripeID,
	}
	repo := newStubBillingRepo(stored)
	box := &stubOutbox{}
	svc := newWebhookService(t, repo, &stubAcademyRepo{}, &stubPlanResolver{}, box)

	now := time.Now().UTC().Truncate(time.Second)
	event := stripeEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, now,
		subscriptionPayload(stripeID, "active", academyID, stored.PlanID, now, now.AddDate(0, 1, 0)))

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(repo.updatedSubs) != 1 || repo.updatedSubs[0].Status != enums.SubscriptionStatusActive {
		t.Fatalf("vacant slot should accept the processor reactivation")
	}
}

func TestSubscriptionDeletedCancels(t *testing.T) {
	stripeID := "sub_live"
	stored := &models.Subscription{
		ID:                   uuid.New(),
		AcademyID:            uuid.New(),
		PlanID:               uuid.New(),
		Status:               enums.SubscriptionStatusActive,
		AutoRenew:            true,
		StripeSubscriptionID: &stripeID,
	}
	repo := newStubBillingRepo(stored)
	box := &stubOutbox{}
	svc := newWebhookService(t, repo, &stubAcademyRepo{}, &stubPlanResolver{}, box)

	event := stripeEvent(t, stripe.EventTypeCustomerSubscriptionDeleted, time.Now().UTC(),
		map[string]any{"id": stripeID, "status": "canceled"})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if stored.Status != enums.SubscriptionStatusCanceled || stored.AutoRenew {
		t.Fatalf("expected canceled with auto renew off, got %+v", stored)
	}
	if len(repo.history) != 1 || repo.history[0].Action != enums.HistoryActionCanceled {
		t.Fatalf("expected canceled history entry")
	}
	if len(box.events) != 1 || box.events[0].EventType != enums.OutboxEventSubscriptionCanceled {
		t.Fatalf("expected canceled event emitted")
	}
}

func TestInvoicePaidRecordsPayment(t *testing.T) {
	stripeID := "sub_live"
	stored := &models.Subscription{
		ID:                   uuid.New(),
		AcademyID:            uuid.New(),
		Status:               enums.SubscriptionStatusActive,
		StripeSubscriptionID: &stripeID,
	}
	repo := newStubBillingRepo(stored)
	box := &stubOutbox{}
	svc := newWebhookService(t, repo, &stubAcademyRepo{}, &stubPlanResolver{}, box)

	event := stripeEvent(t, stripe.EventTypeInvoicePaid, time.Now().UTC(), map[string]any{
		"id":           "in_123",
		"subscription": stripeID,
		"amount_paid":  2999,
		"currency":     "usd",
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(repo.newPayments) != 1 {
		t.Fatalf("expected one payment recorded")
	}
	payment := repo.newPayments[0]
	if payment.Status != enums.PaymentStatusCompleted {
		t.Fatalf("expected completed payment, got %s", payment.Status)
	}
	if payment.Amount.StringFixed(2) != "29.99" {
		t.Fatalf("expected 29.99, got %s", payment.Amount.StringFixed(2))
	}
	if payment.CurrencyCode != "USD" {
		t.Fatalf("expected USD, got %s", payment.CurrencyCode)
	}
	if payment.SubscriptionID == nil || *payment.SubscriptionID != stored.ID {
		t.Fatalf("payment should link to the local subscription")
	}
	if len(box.events) != 1 || box.events[0].EventType != enums.OutboxEventPaymentRecorded {
		t.Fatalf("expected payment recorded event")
	}
}

func TestInvoicePaidIsIdempotent(t *testing.T) {
	stripeID := "sub_live"
	stored := &models.Subscription{
		ID:                   uuid.New(),
		Status:               enums.SubscriptionStatusActive,
		StripeSubscriptionID: &stripeID,
	}
	repo := newStubBillingRepo(stored)
	ref := "in_123"
	repo.payments[ref] = &models.Payment{ID: uuid.New(), StripeReference: &ref}
	svc := newWebhookService(t, repo, &stubAcademyRepo{}, &stubPlanResolver{}, &stubOutbox{})

	event := stripeEvent(t, stripe.EventTypeInvoicePaid, time.Now().UTC(), map[string]any{
		"id":           ref,
		"subscription": stripeID,
		"amount_paid":  2999,
		"currency":     "usd",
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("redelivery must be acknowledged, got %v", err)
	}
	if len(repo.newPayments) != 0 {
		t.Fatalf("duplicate invoice must not create a second row")
	}
}

func TestInvoiceFailedDemotesActive(t *testing.T) {
	stripeID := "sub_live"
	stored := &models.Subscription{
		ID:                   uuid.New(),
		AcademyID:            uuid.New(),
		PlanID:               uuid.New(),
		Status:               enums.SubscriptionStatusActive,
		StripeSubscriptionID: &stripeID,
	}
	repo := newStubBillingRepo(stored)
	box := &stubOutbox{}
	svc := newWebhookService(t, repo, &stubAcademyRepo{}, &stubPlanResolver{}, box)

	event := stripeEvent(t, stripe.EventTypeInvoicePaymentFailed, time.Now().UTC(), map[string]any{
		"id":           "in_456",
		"subscription": stripeID,
		"amount_due":   2999,
		"currency":     "usd",
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if repo.newPayments[0].Status != enums.PaymentStatusFailed {
		t.Fatalf("expected failed payment recorded")
	}
	if stored.Status != enums.SubscriptionStatusPastDue {
		t.Fatalf("active subscription should demote to past due, got %s", stored.Status)
	}
	if len(box.events) != 2 {
		t.Fatalf("expected past due and payment events, got %d", len(box.events))
	}
}

func TestCustomerCreatedAdoptsHandle(t *testing.T) {
	academy := &models.Academy{ID: uuid.New(), ContactEmail: "billing@club.example"}
	academies := &stubAcademyRepo{academy: academy}
	svc := newWebhookService(t, newStubBillingRepo(nil), academies, &stubPlanResolver{}, &stubOutbox{})

	event := stripeEvent(t, stripe.EventTypeCustomerCreated, time.Now().UTC(), map[string]any{
		"id":    "cus_123",
		"email": "billing@club.example",
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(academies.handles) != 1 || academies.handles[0] != "cus_123" {
		t.Fatalf("expected handle adopted")
	}
}

func TestCustomerCreatedKeepsExistingHandle(t *testing.T) {
	handle := "cus_existing"
	academy := &models.Academy{ID: uuid.New(), ContactEmail: "billing@club.example", StripeCustomerID: &handle}
	academies := &stubAcademyRepo{academy: academy}
	svc := newWebhookService(t, newStubBillingRepo(nil), academies, &stubPlanResolver{}, &stubOutbox{})

	event := stripeEvent(t, stripe.EventTypeCustomerCreated, time.Now().UTC(), map[string]any{
		"id":    "cus_other",
		"email": "billing@club.example",
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(academies.handles) != 0 {
		t.Fatalf("existing handle must not be overwritten")
	}
}

func TestPaymentIntentSucceededStandalone(t *testing.T) {
	academyID := uuid.New()
	repo := newStubBillingRepo(nil)
	box := &stubOutbox{}
	svc := newWebhookService(t, repo, &stubAcademyRepo{}, &stubPlanResolver{}, box)

	event := stripeEvent(t, stripe.EventTypePaymentIntentSucceeded, time.Now().UTC(), map[string]any{
		"id":       "pi_789",
		"amount":   5000,
		"currency": "usd",
		"metadata": map[string]string{"academy_id": academyID.String()},
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(repo.newPayments) != 1 {
		t.Fatalf("expected standalone payment recorded")
	}
	payment := repo.newPayments[0]
	if payment.SubscriptionID != nil {
		t.Fatalf("one-off payment must not link to a subscription")
	}
	if payment.AcademyID != academyID {
		t.Fatalf("expected academy from metadata")
	}
	if payment.Amount.StringFixed(2) != "50.00" {
		t.Fatalf("expected 50.00, got %s", payment.Amount.StringFixed(2))
	}
}

func TestUnhandledEventTypeAcked(t *testing.T) {
	svc := newWebhookService(t, newStubBillingRepo(nil), &stubAcademyRepo{}, &stubPlanResolver{}, &stubOutbox{})

	event := stripeEvent(t, stripe.EventType("charge.refunded"), time.Now().UTC(), map[string]any{"id": "ch_1"})
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unhandled types must be acknowledged, got %v", err)
	}
}
