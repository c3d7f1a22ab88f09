package billing

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pitchside/pitchside-backend/api/responses"
	"github.com/pitchside/pitchside-backend/api/validators"
	checkoutsvc "github.com/pitchside/pitchside-backend/internal/checkout"
	"github.com/pitchside/pitchside-backend/pkg/enums"
	pkgerrors "github.com/pitchside/pitchside-backend/pkg/errors"
	"github.com/pitchside/pitchside-backend/pkg/logger"
)

// CheckoutService describes the checkout initiation method used by the HTTP controllers.
type CheckoutService interface {
	Initiate(ctx context.Context, academyID uuid.UUID, input checkoutsvc.InitiateInput) (*checkoutsvc.Session, error)
}

type checkoutRequest struct {
	Plan         string `json:"plan" validate:"required"`
	BillingCycle string `json:"billing_cycle,omitempty"`
	DiscountRef  string `json:"discount_ref,omitempty" validate:"max=128"`
}

type checkoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CheckoutInitiate opens a processor-hosted payment session for a paid plan.
func CheckoutInitiate(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		academyID, err := academyIDFromRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := checkoutsvc.InitiateInput{
			PlanIdentifier: payload.Plan,
			DiscountRef:    payload.DiscountRef,
		}
		if cycle := strings.TrimSpace(payload.BillingCycle); cycle != "" {
			parsed, err := enums.ParseBillingInterval(cycle)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing cycle"))
				return
			}
			input.BillingCycle = &parsed
		}

		session, err := svc.Initiate(ctx, academyID, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			SessionID: session.SessionID,
			URL:       session.URL,
		})
	}
}
