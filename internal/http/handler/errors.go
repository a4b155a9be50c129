package handler

import (
	"errors"
	"net/http"

	"github.com/hirekarma/feature-access-service/internal/http/response"
	"github.com/hirekarma/feature-access-service/internal/repository"
	"github.com/hirekarma/feature-access-service/internal/service"
)

// writeServiceError maps service-layer failures onto the wire taxonomy.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		details := map[string]string{}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", ve.Message, details)
	case errors.Is(err, service.ErrTenantNotFound),
		errors.Is(err, repository.ErrTenantNotFound),
		errors.Is(err, repository.ErrFeatureFlagNotFound),
		errors.Is(err, repository.ErrOverrideNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, service.ErrSaveInFlight):
		response.Error(w, r, http.StatusConflict, "CONFLICT", err.Error(), nil)
	case service.IsTransient(err):
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "upstream dependency unavailable, retry later", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
	}
}
