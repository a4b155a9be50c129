package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hirekarma/feature-access-service/internal/domain"
	"github.com/hirekarma/feature-access-service/internal/http/middleware"
	"github.com/hirekarma/feature-access-service/internal/http/response"
	"github.com/hirekarma/feature-access-service/internal/observability"
	"github.com/hirekarma/feature-access-service/internal/service"
)

const (
	maxBulkBodyBytes = 1 << 20
	idempotencyTTL   = 24 * time.Hour
)

type TenantFeatureHandler struct {
	svc  *service.FeatureAccessService
	idem service.IdempotencyStore
}

func NewTenantFeatureHandler(svc *service.FeatureAccessService, idem service.IdempotencyStore) *TenantFeatureHandler {
	return &TenantFeatureHandler{svc: svc, idem: idem}
}

type bulkOverrideRequest struct {
	Updates []service.OverrideUpdate `json:"updates"`
	Reason  string                   `json:"reason"`
}

type upsertOverrideRequest struct {
	Status           string             `json:"status"`
	CustomSettings   domain.SettingsMap `json:"custom_settings,omitempty"`
	CustomMessage    string             `json:"custom_message,omitempty"`
	AllowedUserTypes []string           `json:"allowed_user_types,omitempty"`
	AllowedRoles     []string           `json:"allowed_roles,omitempty"`
}

// Resolve returns the feature set computed for the requesting caller.
func (h *TenantFeatureHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}

	set, err := h.svc.ResolveForTenant(r.Context(), tenantID, middleware.CallerFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, set)
}

// ResolveStudent serves the student-facing consumer with a fixed
// student caller regardless of the session's user type.
func (h *TenantFeatureHandler) ResolveStudent(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}

	caller := middleware.CallerFromContext(r.Context())
	set, err := h.svc.ResolveStudentFeatures(r.Context(), tenantID, caller.Roles)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, set)
}

// BulkApply commits a batch of enable/disable overrides in one
// transaction. A present Idempotency-Key header makes retries replay
// the original response.
func (h *TenantFeatureHandler) BulkApply(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBulkBodyBytes))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "unreadable request body", nil)
		return
	}

	var req bulkOverrideRequest
	if err := json.Unmarshal(body, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed JSON body", nil)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.idem != nil {
		fingerprint := service.FingerprintRequest(tenantID, string(body))
		begin, err := h.idem.Begin(r.Context(), service.IdempotencyScopeBulkOverride, idemKey, fingerprint, idempotencyTTL)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		switch begin.State {
		case service.IdempotencyStateReplay:
			w.Header().Set("Content-Type", begin.Cached.ContentType)
			w.Header().Set("Idempotency-Replayed", "true")
			w.WriteHeader(begin.Cached.StatusCode)
			_, _ = w.Write(begin.Cached.Body)
			return
		case service.IdempotencyStateConflict:
			response.Error(w, r, http.StatusConflict, "CONFLICT", "idempotency key reused with a different request", nil)
			return
		case service.IdempotencyStateInProgress:
			response.Error(w, r, http.StatusConflict, "CONFLICT", "request with this idempotency key is still processing", nil)
			return
		}

		capture := newCaptureWriter(w)
		h.applyBulk(capture, r, tenantID, req)
		if capture.status >= 200 && capture.status < 300 {
			_ = h.idem.Complete(r.Context(), service.IdempotencyScopeBulkOverride, idemKey, fingerprint, service.CachedHTTPResponse{
				StatusCode:  capture.status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.buf.Bytes(),
			}, idempotencyTTL)
		} else {
			// Failed attempt: free the claim so an identical retry
			// re-executes instead of seeing in_progress until the TTL.
			_ = h.idem.Release(r.Context(), service.IdempotencyScopeBulkOverride, idemKey, fingerprint)
		}
		return
	}

	h.applyBulk(w, r, tenantID, req)
}

func (h *TenantFeatureHandler) applyBulk(w http.ResponseWriter, r *http.Request, tenantID string, req bulkOverrideRequest) {
	updatedKeys, err := h.svc.BulkApplyOverrides(r.Context(), tenantID, req.Updates, req.Reason)
	audit := observability.AuditInput{
		EventName:  "tenant_override.bulk_apply",
		ActorID:    middleware.ActorFromContext(r.Context()),
		TargetType: "tenant",
		TargetID:   tenantID,
		Action:     "bulk_apply",
		Reason:     req.Reason,
	}
	if err != nil {
		audit.Outcome = "failure"
		observability.EmitAudit(r, audit, "update_count", len(req.Updates))
		writeServiceError(w, r, err)
		return
	}

	audit.Outcome = "success"
	observability.EmitAudit(r, audit, "update_count", len(req.Updates))
	response.JSON(w, r, http.StatusOK, map[string]any{
		"updated_keys": updatedKeys,
		"count":        len(updatedKeys),
	})
}

// Upsert creates or replaces a single per-feature override.
func (h *TenantFeatureHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	if !featureFlagKeyRe.MatchString(key) {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid feature key", map[string]string{"field": "key"})
		return
	}

	var req upsertOverrideRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBulkBodyBytes)).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed JSON body", nil)
		return
	}

	override, err := h.svc.UpsertOverride(r.Context(), tenantID, service.OverrideInput{
		FeatureKey:       key,
		Status:           domain.OverrideStatus(req.Status),
		CustomSettings:   req.CustomSettings,
		CustomMessage:    req.CustomMessage,
		AllowedUserTypes: req.AllowedUserTypes,
		AllowedRoles:     req.AllowedRoles,
	})
	audit := observability.AuditInput{
		EventName:  "tenant_override.upsert",
		ActorID:    middleware.ActorFromContext(r.Context()),
		TargetType: "tenant_override",
		TargetID:   tenantID + "/" + key,
		Action:     "upsert",
	}
	if err != nil {
		audit.Outcome = "failure"
		observability.EmitAudit(r, audit)
		writeServiceError(w, r, err)
		return
	}

	audit.Outcome = "success"
	observability.EmitAudit(r, audit, "status", string(override.Status))
	response.JSON(w, r, http.StatusOK, override)
}

// Remove deletes a per-feature override, restoring default behavior.
func (h *TenantFeatureHandler) Remove(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	if !featureFlagKeyRe.MatchString(key) {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid feature key", map[string]string{"field": "key"})
		return
	}

	err := h.svc.RemoveOverride(r.Context(), tenantID, key)
	audit := observability.AuditInput{
		EventName:  "tenant_override.remove",
		ActorID:    middleware.ActorFromContext(r.Context()),
		TargetType: "tenant_override",
		TargetID:   tenantID + "/" + key,
		Action:     "remove",
	}
	if err != nil {
		audit.Outcome = "failure"
		observability.EmitAudit(r, audit)
		writeServiceError(w, r, err)
		return
	}

	audit.Outcome = "success"
	observability.EmitAudit(r, audit)
	response.JSON(w, r, http.StatusOK, map[string]any{"removed": key})
}

func tenantIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "tenant_id")
	if _, err := uuid.Parse(raw); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "tenant_id must be a UUID", map[string]string{"field": "tenant_id"})
		return "", false
	}
	return raw, true
}

type captureWriter struct {
	inner  http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func newCaptureWriter(w http.ResponseWriter) *captureWriter {
	return &captureWriter{inner: w, status: http.StatusOK}
}

func (c *captureWriter) Header() http.Header { return c.inner.Header() }

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.inner.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.buf.Write(p)
	return c.inner.Write(p)
}
