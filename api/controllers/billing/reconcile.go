package billing

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pitchside/pitchside-backend/api/responses"
	reconcilesvc "github.com/pitchside/pitchside-backend/internal/reconcile"
	pkgerrors "github.com/pitchside/pitchside-backend/pkg/errors"
	"github.com/pitchside/pitchside-backend/pkg/logger"
)

// Reconciler describes the repair methods exposed to admins.
type Reconciler interface {
	Validate(ctx context.Context, academyID uuid.UUID) (*reconcilesvc.ValidationResult, error)
	Sync(ctx context.Context, academyID uuid.UUID) (*reconcilesvc.SyncResult, error)
	Refresh(ctx context.Context, academyID uuid.UUID) (*reconcilesvc.RefreshResult, error)
}

func reconcileAcademyID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "academyId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "academy id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid academy id")
	}
	return id, nil
}

// AdminReconcileValidate reports drift between local rows and the processor.
func AdminReconcileValidate(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciler unavailable"))
			return
		}

		academyID, err := reconcileAcademyID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Validate(ctx, academyID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminReconcileSync overwrites local rows from the processor view.
func AdminReconcileSync(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciler unavailable"))
			return
		}

		academyID, err := reconcileAcademyID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Sync(ctx, academyID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminReconcileRefresh validates first, then repairs, and reports both.
func AdminReconcileRefresh(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciler unavailable"))
			return
		}

		academyID, err := reconcileAcademyID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Refresh(ctx, academyID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
