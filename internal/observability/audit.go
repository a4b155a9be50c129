package observability

import (
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// AuditInput describes one administrative mutation for the audit log.
type AuditInput struct {
	EventName  string
	ActorID    string
	TargetType string
	TargetID   string
	Action     string
	Outcome    string
	Reason     string
}

// EmitAudit writes a structured audit event for an admin mutation.
// Extra key/value pairs are appended verbatim.
func EmitAudit(r *http.Request, in AuditInput, extra ...any) {
	attrs := []any{
		"event", in.EventName,
		"actor_id", in.ActorID,
		"target_type", in.TargetType,
		"target_id", in.TargetID,
		"action", in.Action,
		"outcome", in.Outcome,
		"reason", in.Reason,
		"request_id", chimiddleware.GetReqID(r.Context()),
	}
	attrs = append(attrs, extra...)
	slog.InfoContext(r.Context(), "audit", attrs...)
}
