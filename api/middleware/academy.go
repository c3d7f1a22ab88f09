package middleware

import (
	"net/http"

	"github.com/pitchside/pitchside-backend/api/responses"
	pkgerrors "github.com/pitchside/pitchside-backend/pkg/errors"
	"github.com/pitchside/pitchside-backend/pkg/logger"
)

// AcademyContext rejects requests whose token carries no academy binding.
func AcademyContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AcademyIDFromContext(r.Context()) == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "academy context missing"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
