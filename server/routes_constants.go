package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Password login and session lifecycle
	RouteAuthLogin     = "/auth/login"
	RouteAuthMFAVerify = "/auth/mfa/verify"
	RouteAuthRefresh   = "/auth/refresh"
	RouteAuthLogout    = "/auth/logout"

	// Federated login
	RouteFederatedLogin    = "/login/{idp_slug}"
	RouteFederatedCallback = "/callback/{idp_slug}"
	RouteFederatedLink     = "/link/{idp_slug}"
	RouteSessionTokens     = "/session/{session_id}/tokens"

	// Frontend landing paths for SSO redirects
	RouteFrontendLogin    = "/login"
	RouteFrontendSettings = "/settings"

	// Operations
	RouteHealthLive  = "/health/live"
	RouteHealthReady = "/health/ready"
	RouteMetrics     = "/metrics"
)
