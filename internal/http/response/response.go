package response

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// problemTypePrefix namespaces RFC 7807 problem types for this service.
const problemTypePrefix = "urn:problem:feature-access:"

// problemTitles maps the error codes this service emits to their RFC
// 7807 titles. Codes outside the table fall back to the status text.
var problemTitles = map[string]string{
	"BAD_REQUEST":        "Bad Request",
	"UNAUTHORIZED":       "Unauthorized",
	"FORBIDDEN":          "Forbidden",
	"NOT_FOUND":          "Not Found",
	"METHOD_NOT_ALLOWED": "Method Not Allowed",
	"CONFLICT":           "Conflict",
	"RATE_LIMITED":       "Too Many Requests",
	"DEPENDENCY_UNREADY": "Service Unavailable",
	"INTERNAL":           "Internal Server Error",
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    meta        `json:"meta"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

type problemDetails struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSON(w, "application/json", status, envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	if prefersProblemJSON(r) {
		writeJSON(w, "application/problem+json", status, problemDetails{
			Type:      problemType(code),
			Title:     problemTitle(code, status),
			Status:    status,
			Detail:    message,
			Instance:  r.URL.Path,
			Code:      code,
			RequestID: buildMeta(r).RequestID,
		})
		return
	}

	writeJSON(w, "application/json", status, envelope{
		Success: false,
		Error:   &apiError{Code: code, Message: message, Details: details},
		Meta:    buildMeta(r),
	})
}

func writeJSON(w http.ResponseWriter, contentType string, status int, body interface{}) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}

// prefersProblemJSON reports whether the Accept header asks for
// application/problem+json with a non-zero quality.
func prefersProblemJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil || mediaType != "application/problem+json" {
			continue
		}
		if raw, ok := params["q"]; ok {
			if weight, err := strconv.ParseFloat(raw, 64); err == nil && weight <= 0 {
				continue
			}
		}
		return true
	}
	return false
}

func problemType(code string) string {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(code)), "_", "-")
	if normalized == "" {
		normalized = "unknown"
	}
	return problemTypePrefix + normalized
}

func problemTitle(code string, status int) string {
	if title, ok := problemTitles[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return title
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "Error"
}
