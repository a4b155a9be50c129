package handler

import (
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hirekarma/feature-access-service/internal/http/middleware"
	"github.com/hirekarma/feature-access-service/internal/http/response"
	"github.com/hirekarma/feature-access-service/internal/observability"
	"github.com/hirekarma/feature-access-service/internal/repository"
	"github.com/hirekarma/feature-access-service/internal/service"
)

var featureFlagKeyRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

type FeatureFlagHandler struct {
	svc *service.FeatureAccessService
}

func NewFeatureFlagHandler(svc *service.FeatureAccessService) *FeatureFlagHandler {
	return &FeatureFlagHandler{svc: svc}
}

// List returns the paged flag catalog for the management dashboard.
func (h *FeatureFlagHandler) List(w http.ResponseWriter, r *http.Request) {
	q := repository.FlagListQuery{
		Category: r.URL.Query().Get("category"),
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "page_size"),
	}

	result, err := h.svc.ListCatalog(q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, map[string]any{
		"flags":       result.Flags,
		"page":        result.Page,
		"page_size":   result.PageSize,
		"total":       result.Total,
		"total_pages": result.TotalPages,
	})
}

// Toggle flips a flag's default enablement and broadcasts invalidation
// to every tenant.
func (h *FeatureFlagHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !featureFlagKeyRe.MatchString(key) {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid feature key", map[string]string{"field": "key"})
		return
	}

	flag, err := h.svc.ToggleFlag(r.Context(), key)
	if err != nil {
		observability.EmitAudit(r, observability.AuditInput{
			EventName:  "feature_flag.toggle",
			ActorID:    middleware.ActorFromContext(r.Context()),
			TargetType: "feature_flag",
			TargetID:   key,
			Action:     "toggle",
			Outcome:    "failure",
		})
		writeServiceError(w, r, err)
		return
	}

	observability.EmitAudit(r, observability.AuditInput{
		EventName:  "feature_flag.toggle",
		ActorID:    middleware.ActorFromContext(r.Context()),
		TargetType: "feature_flag",
		TargetID:   key,
		Action:     "toggle",
		Outcome:    "success",
	}, "default_enabled", flag.DefaultEnabled)

	response.JSON(w, r, http.StatusOK, flag)
}

func queryInt(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
