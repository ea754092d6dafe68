// Package api implements HTTP handlers and helpers for the order sync service.
package api

import (
	"net/http"
	"strings"
)

type Principal struct {
	Tenant     string
	Role       string // admin, operator, merchant
	MerchantID string
}

// getPrincipal extracts tenant and role from JWT or headers.
// - If Authorization: Bearer is present, uses configured verifier (dev/hmac/jwks).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return Principal{Tenant: pr.Tenant, Role: pr.Role, MerchantID: pr.MerchantID}
		}
	}
	tenant := r.Header.Get("X-Tenant-Id")
	role := r.Header.Get("X-Role")
	merchantID := r.Header.Get("X-Merchant-Id")
	if tenant == "" {
		tenant = "t_demo"
	}
	if role == "" {
		role = "admin"
	}
	return Principal{Tenant: tenant, Role: role, MerchantID: merchantID}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanOperate reports whether the principal may touch sync controls.
func (p Principal) CanOperate() bool { return p.Role == "admin" || p.Role == "operator" }
