package billing

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pitchside/pitchside-backend/api/responses"
	"github.com/pitchside/pitchside-backend/api/validators"
	subscriptionsvc "github.com/pitchside/pitchside-backend/internal/subscriptions"
	"github.com/pitchside/pitchside-backend/pkg/db/models"
	"github.com/pitchside/pitchside-backend/pkg/enums"
	pkgerrors "github.com/pitchside/pitchside-backend/pkg/errors"
	"github.com/pitchside/pitchside-backend/pkg/logger"
)

// SubscriptionService describes the lifecycle methods used by the HTTP controllers.
type SubscriptionService interface {
	Upgrade(ctx context.Context, academyID uuid.UUID, input subscriptionsvc.UpgradeInput) (*subscriptionsvc.UpgradeResult, error)
	Cancel(ctx context.Context, academyID uuid.UUID, input subscriptionsvc.CancelInput) error
	GetActive(ctx context.Context, academyID uuid.UUID) (*models.Subscription, error)
}

// HistoryLister reads the append-only audit trail for a subscription.
type HistoryLister interface {
	ListSubscriptionsByAcademy(ctx context.Context, academyID uuid.UUID) ([]models.Subscription, error)
	ListHistoryBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionHistory, error)
}

type upgradeRequest struct {
	Plan             string `json:"plan" validate:"required"`
	PaymentMethod    string `json:"payment_method" validate:"required"`
	PaymentReference string `json:"payment_reference,omitempty"`
	Notes            string `json:"notes,omitempty" validate:"max=500"`
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type upgradeResponse struct {
	Subscription subscriptionResponse `json:"subscription"`
	Plan         planResponse         `json:"plan"`
	Payment      *paymentResponse     `json:"payment,omitempty"`
	Replaced     bool                 `json:"replaced"`
}

type historyEntryResponse struct {
	ID             uuid.UUID  `json:"id"`
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	Action         string     `json:"action"`
	OldPlanID      *uuid.UUID `json:"old_plan_id,omitempty"`
	NewPlanID      *uuid.UUID `json:"new_plan_id,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	CreatedAt      string     `json:"created_at"`
}

type historyListResponse struct {
	Entries []historyEntryResponse `json:"entries"`
}

// SubscriptionFetch returns the academy's live subscription.
func SubscriptionFetch(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		academyID, err := academyIDFromRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, err := svc.GetActive(ctx, academyID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if sub == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription"))
			return
		}

		responses.WriteSuccess(w, subscriptionToResponse(sub))
	}
}

// SubscriptionUpgrade moves the academy onto a new plan in one transaction.
func SubscriptionUpgrade(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		academyID, err := academyIDFromRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload upgradeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(strings.TrimSpace(payload.PaymentMethod))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		result, err := svc.Upgrade(ctx, academyID, subscriptionsvc.UpgradeInput{
			PlanIdentifier:   payload.Plan,
			PaymentMethod:    method,
			PaymentReference: payload.PaymentReference,
			Notes:            payload.Notes,
			Actor:            actorFromRequest(r, academyID),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := upgradeResponse{
			Subscription: subscriptionToResponse(result.Subscription),
			Plan:         planToResponse(result.Plan),
			Replaced:     result.Replaced,
		}
		if result.Payment != nil {
			payment := paymentToResponse(result.Payment)
			resp.Payment = &payment
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resp)
	}
}

// SubscriptionCancel ends the academy's live subscription immediately.
func SubscriptionCancel(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		academyID, err := academyIDFromRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload cancelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.Cancel(ctx, academyID, subscriptionsvc.CancelInput{
			Reason: payload.Reason,
			Actor:  actorFromRequest(r, academyID),
		}); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "canceled"})
	}
}

// SubscriptionHistoryList returns the audit trail across the academy's
// subscriptions, newest first.
func SubscriptionHistoryList(repo HistoryLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if repo == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing repository unavailable"))
			return
		}

		academyID, err := academyIDFromRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		subs, err := repo.ListSubscriptionsByAcademy(ctx, academyID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions"))
			return
		}

		entries := []historyEntryResponse{}
		for _, sub := range subs {
			rows, err := repo.ListHistoryBySubscription(ctx, sub.ID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list history"))
				return
			}
			for i := range rows {
				entries = append(entries, historyEntryToResponse(&rows[i]))
			}
		}
		sortHistoryNewestFirst(entries)

		responses.WriteSuccess(w, historyListResponse{Entries: entries})
	}
}

func historyEntryToResponse(entry *models.SubscriptionHistory) historyEntryResponse {
	return historyEntryResponse{
		ID:             entry.ID,
		SubscriptionID: entry.SubscriptionID,
		Action:         string(entry.Action),
		OldPlanID:      entry.OldPlanID,
		NewPlanID:      entry.NewPlanID,
		Notes:          entry.Notes,
		CreatedAt:      entry.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func sortHistoryNewestFirst(entries []historyEntryResponse) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt > entries[j].CreatedAt
	})
}
