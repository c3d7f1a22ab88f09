package billing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pitchside/pitchside-backend/api/responses"
	"github.com/pitchside/pitchside-backend/pkg/db/models"
	"github.com/pitchside/pitchside-backend/pkg/enums"
	pkgerrors "github.com/pitchside/pitchside-backend/pkg/errors"
	"github.com/pitchside/pitchside-backend/pkg/logger"
)

// PlanCatalog describes the plan catalog methods used by the HTTP controllers.
type PlanCatalog interface {
	Resolve(ctx context.Context, identifier string) (*models.Plan, error)
	List(ctx context.Context, status *enums.PlanStatus) ([]models.Plan, error)
}

type planResponse struct {
	ID                uuid.UUID `json:"id"`
	Code              string    `json:"code"`
	Name              string    `json:"name"`
	Status            string    `json:"status"`
	PriceAmount       string    `json:"price_amount"`
	AnnualPriceAmount *string   `json:"annual_price_amount,omitempty"`
	CurrencyCode      string    `json:"currency_code"`
	Interval          *string   `json:"billing_interval,omitempty"`
	MaxPlayers        int       `json:"max_players"`
	Unlimited         bool      `json:"unlimited_players"`
	Features          []string  `json:"features"`
	CreatedAt         string    `json:"created_at"`
	UpdatedAt         string    `json:"updated_at"`
}

type planListResponse struct {
	Plans []planResponse `json:"plans"`
}

// PlansList returns the catalog visible to academies. Admins may request any
// status via the status query parameter; everyone else sees active plans.
func PlansList(catalog PlanCatalog, adminView bool, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if catalog == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog unavailable"))
			return
		}

		active := enums.PlanStatusActive
		status := &active
		if adminView {
			statusParam := strings.TrimSpace(r.URL.Query().Get("status"))
			if statusParam == "" {
				status = nil
			} else {
				parsed, err := enums.ParsePlanStatus(statusParam)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
					return
				}
				status = &parsed
			}
		}

		plans, err := catalog.List(ctx, status)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, planListResponse{Plans: plansToResponse(plans)})
	}
}

// PlanDetail resolves a plan by durable id or catalog code.
func PlanDetail(catalog PlanCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if catalog == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog unavailable"))
			return
		}

		identifier := strings.TrimSpace(chi.URLParam(r, "planId"))
		if identifier == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required"))
			return
		}

		plan, err := catalog.Resolve(ctx, identifier)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if plan == nil || plan.Status != enums.PlanStatusActive {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found"))
			return
		}

		responses.WriteSuccess(w, planToResponse(plan))
	}
}

func plansToResponse(plans []models.Plan) []planResponse {
	result := make([]planResponse, 0, len(plans))
	for i := range plans {
		result = append(result, planToResponse(&plans[i]))
	}
	return result
}

func planToResponse(plan *models.Plan) planResponse {
	features := make([]string, len(plan.Features))
	copy(features, plan.Features)

	resp := planResponse{
		ID:           plan.ID,
		Code:         plan.Code,
		Name:         plan.Name,
		Status:       string(plan.Status),
		PriceAmount:  plan.PriceAmount.StringFixed(2),
		CurrencyCode: plan.CurrencyCode,
		MaxPlayers:   plan.MaxPlayers,
		Unlimited:    plan.MaxPlayers == models.PlayerLimitUnlimited,
		Features:     features,
		CreatedAt:    plan.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    plan.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if plan.AnnualPriceAmount != nil {
		annual := plan.AnnualPriceAmount.StringFixed(2)
		resp.AnnualPriceAmount = &annual
	}
	if plan.Interval != nil {
		interval := string(*plan.Interval)
		resp.Interval = &interval
	}
	return resp
}
