package handler

import (
	"net/http"

	"github.com/hirekarma/feature-access-service/internal/http/response"
	"github.com/hirekarma/feature-access-service/internal/service"
)

type DashboardHandler struct {
	svc *service.FeatureAccessService
}

func NewDashboardHandler(svc *service.FeatureAccessService) *DashboardHandler {
	return &DashboardHandler{svc: svc}
}

// Features returns fleet-wide enablement stats for the admin dashboard.
func (h *DashboardHandler) Features(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Dashboard(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, stats)
}
