package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/pitchside/pitchside-backend/pkg/db/models"
	"github.com/pitchside/pitchside-backend/pkg/enums"
	pkgerrors "github.com/pitchside/pitchside-backend/pkg/errors"
)

// annualDiscountFactor prices an ad-hoc yearly charge at ten months when the
// plan carries no explicit annual price.
var annualDiscountFactor = decimal.NewFromInt(10)

type academyRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Academy, error)
	UpdateStripeCustomerID(ctx context.Context, academyID uuid.UUID, customerID string) error
}

type planResolver interface {
	Resolve(ctx context.Context, identifier string) (*models.Plan, error)
}

// Service builds hosted checkout sessions for academies.
type Service interface {
	Initiate(ctx context.Context, academyID uuid.UUID, input InitiateInput) (*Session, error)
}

// ServiceParams groups dependencies for the checkout service.
type ServiceParams struct {
	AcademyRepo     academyRepository
	Plans           planResolver
	StripeClient    StripeCheckoutClient
	SuccessURL      string
	CancelURL       string
	DefaultCurrency string
}

// InitiateInput captures a checkout request for an academy.
type InitiateInput struct {
	PlanIdentifier string
	BillingCycle   *enums.BillingInterval
	DiscountRef    string
}

// Session is the processor-hosted page the caller redirects to.
type Session struct {
	SessionID string
	URL       string
}

type service struct {
	academyRepo academyRepository
	plans       planResolver
	stripe      StripeCheckoutClient
	successURL  string
	cancelURL   string
	currency    string
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.AcademyRepo == nil {
		return nil, fmt.Errorf("academy repo required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan resolver required")
	}
	if params.StripeClient == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if strings.TrimSpace(params.SuccessURL) == "" || strings.TrimSpace(params.CancelURL) == "" {
		return nil, fmt.Errorf("checkout redirect urls required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.DefaultCurrency))
	if currency == "" {
		currency = "usd"
	}
	return &service{
		academyRepo: params.AcademyRepo,
		plans:       params.Plans,
		stripe:      params.StripeClient,
		successURL:  strings.TrimSpace(params.SuccessURL),
		cancelURL:   strings.TrimSpace(params.CancelURL),
		currency:    currency,
	}, nil
}

// Initiate resolves the plan and customer handle, then opens a Stripe
// checkout session. Nothing is written locally besides the customer handle,
// which is safe to re-persist on retry.
func (s *service) Initiate(ctx context.Context, academyID uuid.UUID, input InitiateInput) (*Session, error) {
	if academyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "academy id is required")
	}
	if strings.TrimSpace(input.PlanIdentifier) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan identifier is required")
	}
	if input.BillingCycle != nil && !input.BillingCycle.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing cycle")
	}

	plan, err := s.plans.Resolve(ctx, input.PlanIdentifier)
	if err != nil {
		return nil, err
	}
	if plan.Status != enums.PlanStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "plan is not open for new subscriptions")
	}
	if plan.IsFree() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "free plans do not require checkout")
	}

	academy, err := s.academyRepo.FindByID(ctx, academyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "academy not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load academy")
	}

	customerID, reused, err := s.ensureCustomer(ctx, academy)
	if err != nil {
		return nil, err
	}

	cycle := s.billingCycle(plan, input.BillingCycle)
	params := s.sessionParams(academy, plan, cycle, customerID, input.DiscountRef)

	checkoutSession, err := s.stripe.CreateSession(ctx, params)
	if err != nil {
		// A stored handle from another Stripe environment comes back as
		// resource_missing. Mint a fresh customer and retry exactly once.
		if !reused || !isCustomerMissing(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
		}
		customerID, err = s.createCustomer(ctx, academy)
		if err != nil {
			return nil, err
		}
		params = s.sessionParams(academy, plan, cycle, customerID, input.DiscountRef)
		checkoutSession, err = s.stripe.CreateSession(ctx, params)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
		}
	}

	return &Session{SessionID: checkoutSession.ID, URL: checkoutSession.URL}, nil
}

func (s *service) ensureCustomer(ctx context.Context, academy *models.Academy) (string, bool, error) {
	if academy.StripeCustomerID != nil && strings.TrimSpace(*academy.StripeCustomerID) != "" {
		return strings.TrimSpace(*academy.StripeCustomerID), true, nil
	}
	customerID, err := s.createCustomer(ctx, academy)
	if err != nil {
		return "", false, err
	}
	return customerID, false, nil
}

func (s *service) createCustomer(ctx context.Context, academy *models.Academy) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(academy.ContactEmail),
		Name:  stripe.String(academy.Name),
	}
	params.AddMetadata("academy_id", academy.ID.String())

	created, err := s.stripe.CreateCustomer(ctx, params)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe customer")
	}
	if err := s.academyRepo.UpdateStripeCustomerID(ctx, academy.ID, created.ID); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist stripe customer handle")
	}
	handle := created.ID
	academy.StripeCustomerID = &handle
	return created.ID, nil
}

func (s *service) billingCycle(plan *models.Plan, override *enums.BillingInterval) enums.BillingInterval {
	if override != nil {
		return *override
	}
	if plan.Interval != nil {
		return *plan.Interval
	}
	return enums.BillingIntervalMonthly
}

func (s *service) sessionParams(academy *models.Academy, plan *models.Plan, cycle enums.BillingInterval, customerID, discountRef string) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			s.lineItem(plan, cycle),
		},
	}
	params.AddMetadata("academy_id", academy.ID.String())
	params.AddMetadata("plan_id", plan.ID.String())

	if cycle == enums.BillingIntervalOneTime {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
	} else {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"academy_id": academy.ID.String(),
				"plan_id":    plan.ID.String(),
			},
		}
	}

	if ref := strings.TrimSpace(discountRef); ref != "" {
		discount := &stripe.CheckoutSessionDiscountParams{}
		if strings.HasPrefix(ref, "promo_") {
			discount.PromotionCode = stripe.String(ref)
		} else {
			discount.Coupon = stripe.String(ref)
		}
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{discount}
	}
	return params
}

// lineItem prefers the pre-provisioned price. Without one it charges an
// ad-hoc amount derived from the catalog price and requested cycle.
func (s *service) lineItem(plan *models.Plan, cycle enums.BillingInterval) *stripe.CheckoutSessionLineItemParams {
	usesPlanCadence := plan.Interval == nil || *plan.Interval == cycle
	if plan.StripePriceID != nil && strings.TrimSpace(*plan.StripePriceID) != "" && usesPlanCadence {
		return &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(strings.TrimSpace(*plan.StripePriceID)),
			Quantity: stripe.Int64(1),
		}
	}

	currency := strings.ToLower(plan.CurrencyCode)
	if currency == "" {
		currency = s.currency
	}
	priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripe.String(currency),
		UnitAmount: stripe.Int64(unitAmount(plan, cycle)),
		ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(plan.Name),
		},
	}
	switch cycle {
	case enums.BillingIntervalYearly:
		priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval: stripe.String("year"),
		}
	case enums.BillingIntervalOneTime:
		// one-shot charge, no recurring block
	default:
		priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval: stripe.String("month"),
		}
	}
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: priceData,
		Quantity:  stripe.Int64(1),
	}
}

func unitAmount(plan *models.Plan, cycle enums.BillingInterval) int64 {
	amount := plan.PriceAmount
	if cycle == enums.BillingIntervalYearly {
		if plan.AnnualPriceAmount != nil {
			amount = *plan.AnnualPriceAmount
		} else {
			amount = plan.PriceAmount.Mul(annualDiscountFactor)
		}
	}
	return amount.Shift(2).Round(0).IntPart()
}

func isCustomerMissing(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Code == stripe.ErrorCodeResourceMissing
}
