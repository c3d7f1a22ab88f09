package billing

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pitchside/pitchside-backend/api/middleware"
	"github.com/pitchside/pitchside-backend/pkg/db/models"
	pkgerrors "github.com/pitchside/pitchside-backend/pkg/errors"
	"github.com/pitchside/pitchside-backend/pkg/outbox"
)

func academyIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := middleware.AcademyIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "academy context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeForbidden, err, "invalid academy context")
	}
	return id, nil
}

func actorFromRequest(r *http.Request, academyID uuid.UUID) *outbox.ActorRef {
	raw := middleware.UserIDFromContext(r.Context())
	userID, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	actor := &outbox.ActorRef{
		UserID: userID,
		Role:   middleware.RoleFromContext(r.Context()),
	}
	if academyID != uuid.Nil {
		actor.AcademyID = &academyID
	}
	return actor
}

type subscriptionResponse struct {
	ID                   uuid.UUID  `json:"id"`
	AcademyID            uuid.UUID  `json:"academy_id"`
	PlanID               uuid.UUID  `json:"plan_id"`
	Status               string     `json:"status"`
	StartsAt             string     `json:"starts_at"`
	EndsAt               string     `json:"ends_at"`
	AutoRenew            bool       `json:"auto_renew"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id,omitempty"`
	CreatedAt            string     `json:"created_at"`
	UpdatedAt            string     `json:"updated_at"`
}

func subscriptionToResponse(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                   sub.ID,
		AcademyID:            sub.AcademyID,
		PlanID:               sub.PlanID,
		Status:               string(sub.Status),
		StartsAt:             sub.StartsAt.UTC().Format(time.RFC3339),
		EndsAt:               sub.EndsAt.UTC().Format(time.RFC3339),
		AutoRenew:            sub.AutoRenew,
		StripeSubscriptionID: sub.StripeSubscriptionID,
		CreatedAt:            sub.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:            sub.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type paymentResponse struct {
	ID              uuid.UUID  `json:"id"`
	AcademyID       uuid.UUID  `json:"academy_id"`
	SubscriptionID  *uuid.UUID `json:"subscription_id,omitempty"`
	Amount          string     `json:"amount"`
	CurrencyCode    string     `json:"currency_code"`
	Method          string     `json:"method"`
	Status          string     `json:"status"`
	StripeReference *string    `json:"stripe_reference,omitempty"`
	Note            *string    `json:"note,omitempty"`
	CreatedAt       string     `json:"created_at"`
}

func paymentToResponse(payment *models.Payment) paymentResponse {
	return paymentResponse{
		ID:              payment.ID,
		AcademyID:       payment.AcademyID,
		SubscriptionID:  payment.SubscriptionID,
		Amount:          payment.Amount.StringFixed(2),
		CurrencyCode:    payment.CurrencyCode,
		Method:          string(payment.Method),
		Status:          string(payment.Status),
		StripeReference: payment.StripeReference,
		Note:            payment.Note,
		CreatedAt:       payment.CreatedAt.UTC().Format(time.RFC3339),
	}
}
