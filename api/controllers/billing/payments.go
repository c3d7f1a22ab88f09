package billing

import (
	"context"
	"net/http"
	"strings"

	"github.com/pitchside/pitchside-backend/api/responses"
	"github.com/pitchside/pitchside-backend/api/validators"
	billingrepo "github.com/pitchside/pitchside-backend/internal/billing"
	"github.com/pitchside/pitchside-backend/pkg/db/models"
	"github.com/pitchside/pitchside-backend/pkg/enums"
	pkgerrors "github.com/pitchside/pitchside-backend/pkg/errors"
	"github.com/pitchside/pitchside-backend/pkg/logger"
	"github.com/pitchside/pitchside-backend/pkg/pagination"
)

// PaymentLister reads the academy's payment ledger.
type PaymentLister interface {
	ListPayments(ctx context.Context, params billingrepo.ListPaymentsQuery) ([]models.Payment, *pagination.Cursor, error)
}

type paymentListResponse struct {
	Payments   []paymentResponse `json:"payments"`
	NextCursor *string           `json:"next_cursor,omitempty"`
}

// PaymentsList returns the ledger newest first with cursor pagination.
func PaymentsList(repo PaymentLister, logg *logger.Logger) http.HandlerFunc {
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

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		query := billingrepo.ListPaymentsQuery{
			AcademyID: academyID,
			Limit:     limit,
		}

		if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
			cursor, err := pagination.ParseCursor(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
				return
			}
			query.Cursor = cursor
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParsePaymentStatus(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			query.Status = &status
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("method")); raw != "" {
			method, err := enums.ParsePaymentMethod(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid method"))
				return
			}
			query.Method = &method
		}

		payments, next, err := repo.ListPayments(ctx, query)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments"))
			return
		}

		resp := paymentListResponse{Payments: make([]paymentResponse, 0, len(payments))}
		for i := range payments {
			resp.Payments = append(resp.Payments, paymentToResponse(&payments[i]))
		}
		if next != nil {
			encoded := pagination.EncodeCursor(*next)
			resp.NextCursor = &encoded
		}

		responses.WriteSuccess(w, resp)
	}
}
