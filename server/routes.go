package server

import (
	"net/http"
)

func (s *Server) initRoutes() {
	// Password login, MFA and session lifecycle
	s.RegisterRouteHandler("POST "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthMFAVerify, ChainMiddleware(s.MFAVerifyHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))

	// Federated login
	s.RegisterRouteHandler("GET "+RouteFederatedLogin, ChainMiddleware(s.FederatedLoginHandler(), s.BrowserMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteFederatedCallback, ChainMiddleware(s.FederatedCallbackHandler(), s.BrowserMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteFederatedLink, ChainMiddleware(s.FederatedLinkHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("POST "+RouteSessionTokens, ChainMiddleware(s.MobileTokenExchangeHandler(), s.APIMiddleware()...))

	// CORS preflight for every API route
	s.RegisterRouteHandler("OPTIONS /", ChainMiddleware(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, s.APIMiddleware()...))

	s.RegisterRouteFunc("GET "+RouteHealthLive, s.LivenessHandler())
	s.RegisterRouteFunc("GET "+RouteHealthReady, s.ReadinessHandler())
	if s.metrics != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, s.metrics)
	}
}
