package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/hirekarma/feature-access-service/internal/security"
)

// BypassEvaluator reports whether a request is exempt from request-shaping
// middleware and names the matching rule for logs.
type BypassEvaluator func(r *http.Request) (bool, string)

type RequestBypassConfig struct {
	EnableInternalProbeBypass bool
	EnableTrustedActorBypass  bool
	TrustedActorCIDRs         []string
	TrustedActorSubjects      []string
}

var probePaths = map[string]struct{}{
	"/health/live":  {},
	"/health/ready": {},
}

// NewBypassEvaluator compiles the configured bypass rules once. Invalid
// CIDRs are skipped rather than failing startup.
func NewBypassEvaluator(cfg RequestBypassConfig, jwtMgr *security.JWTManager) BypassEvaluator {
	var networks []*net.IPNet
	for _, raw := range cfg.TrustedActorCIDRs {
		_, network, err := net.ParseCIDR(strings.TrimSpace(raw))
		if err != nil || network == nil {
			continue
		}
		networks = append(networks, network)
	}

	subjects := make(map[string]struct{}, len(cfg.TrustedActorSubjects))
	for _, s := range cfg.TrustedActorSubjects {
		s = strings.TrimSpace(s)
		if s != "" {
			subjects[s] = struct{}{}
		}
	}

	return func(r *http.Request) (bool, string) {
		if cfg.EnableInternalProbeBypass {
			if _, ok := probePaths[r.URL.Path]; ok {
				return true, "internal_probe"
			}
		}
		if !cfg.EnableTrustedActorBypass {
			return false, ""
		}
		if len(networks) > 0 {
			if ip := requestIP(r); ip != nil {
				for _, network := range networks {
					if network.Contains(ip) {
						return true, "trusted_cidr"
					}
				}
			}
		}
		if len(subjects) > 0 && jwtMgr != nil {
			raw := rawAccessToken(r)
			if raw != "" {
				if claims, err := jwtMgr.ParseAccessToken(raw); err == nil && claims != nil {
					if _, ok := subjects[claims.Subject]; ok {
						return true, "trusted_subject"
					}
				}
			}
		}
		return false, ""
	}
}

func requestIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(strings.TrimSpace(host))
}
