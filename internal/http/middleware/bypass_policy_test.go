package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hirekarma/feature-access-service/internal/security"
)

func TestBypassEvaluator_ProbePaths(t *testing.T) {
	eval := NewBypassEvaluator(RequestBypassConfig{EnableInternalProbeBypass: true}, nil)

	for _, path := range []string{"/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		ok, reason := eval(req)
		if !ok || reason != "internal_probe" {
			t.Fatalf("%s: expected probe bypass, got ok=%v reason=%q", path, ok, reason)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/features", nil)
	if ok, _ := eval(req); ok {
		t.Fatal("expected api path not bypassed")
	}
}

func TestBypassEvaluator_ProbeDisabled(t *testing.T) {
	eval := NewBypassEvaluator(RequestBypassConfig{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	if ok, _ := eval(req); ok {
		t.Fatal("expected no bypass when probes disabled")
	}
}

func TestBypassEvaluator_TrustedCIDR(t *testing.T) {
	eval := NewBypassEvaluator(RequestBypassConfig{
		EnableTrustedActorBypass: true,
		TrustedActorCIDRs:        []string{"10.1.0.0/16", "bogus-cidr"},
	}, nil)

	inside := httptest.NewRequest(http.MethodGet, "/x", nil)
	inside.RemoteAddr = "10.1.2.3:5000"
	if ok, reason := eval(inside); !ok || reason != "trusted_cidr" {
		t.Fatalf("expected trusted_cidr bypass, got ok=%v reason=%q", ok, reason)
	}

	outside := httptest.NewRequest(http.MethodGet, "/x", nil)
	outside.RemoteAddr = "192.168.1.1:5000"
	if ok, _ := eval(outside); ok {
		t.Fatal("expected address outside CIDR not bypassed")
	}
}

func TestBypassEvaluator_TrustedSubject(t *testing.T) {
	mgr := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456")
	eval := NewBypassEvaluator(RequestBypassConfig{
		EnableTrustedActorBypass: true,
		TrustedActorSubjects:     []string{"svc-sync"},
	}, mgr)

	trusted, err := mgr.SignAccessToken("svc-sync", "admin", nil, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+trusted)
	if ok, reason := eval(req); !ok || reason != "trusted_subject" {
		t.Fatalf("expected trusted_subject bypass, got ok=%v reason=%q", ok, reason)
	}

	other, err := mgr.SignAccessToken("user-1", "student", nil, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	if ok, _ := eval(req); ok {
		t.Fatal("expected unlisted subject not bypassed")
	}
}
