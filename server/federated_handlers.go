package server

import (
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-session-auth/auth"
	"github.com/jrsteele09/go-session-auth/clients"
	"github.com/rs/zerolog/log"
)

type linkResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

type tokenExchangeRequest struct {
	CodeVerifier string `json:"code_verifier"`
}

// federatedClientType reads the client type from the header or the
// client_type query parameter. Browsers following a plain link send neither
// and are treated as web clients.
func federatedClientType(r *http.Request) (clients.ClientType, error) {
	value := r.Header.Get(clients.HeaderClientType)
	if value == "" {
		value = r.URL.Query().Get("client_type")
	}
	if value == "" {
		return clients.ClientTypeWeb, nil
	}
	return clients.Parse(value)
}

// FederatedLoginHandler redirects the browser to the identity provider.
func (s *Server) FederatedLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientType, err := federatedClientType(r)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}

		query := r.URL.Query()
		authURL, err := s.auth.InitiateFederatedLogin(r.Context(), auth.InitiateRequest{
			ProviderSlug:        r.PathValue("idp_slug"),
			Client:              auth.ClientInfo{Type: clientType, IPAddress: s.clientIP(r), UserAgent: r.UserAgent()},
			RedirectPath:        query.Get("redirect"),
			CodeChallenge:       query.Get("code_challenge"),
			CodeChallengeMethod: query.Get("code_challenge_method"),
		})
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
	}
}

// FederatedLinkHandler starts linking a provider to the authenticated user.
// The frontend navigates to the returned URL itself.
func (s *Server) FederatedLinkHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeJSONError(w, r, auth.ErrInvalidSession)
			return
		}
		client, err := s.clientInfo(r)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}

		userID := claims.Subject
		authURL, err := s.auth.InitiateFederatedLogin(r.Context(), auth.InitiateRequest{
			ProviderSlug: r.PathValue("idp_slug"),
			Client:       client,
			RedirectPath: r.URL.Query().Get("redirect"),
			UserID:       &userID,
		})
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, linkResponse{AuthorizationURL: authURL})
	}
}

// FederatedCallbackHandler never returns a raw error; every failure lands on
// the frontend with error=sso_failed.
func (s *Server) FederatedCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		slug := r.PathValue("idp_slug")

		if providerErr := query.Get("error"); providerErr != "" {
			log.Warn().Str("provider", slug).Str("error", providerErr).Msg("identity provider returned an error")
			s.redirectWithError(w, r)
			return
		}

		result, err := s.auth.FederatedCallback(r.Context(), auth.CallbackRequest{
			ProviderSlug: slug,
			Code:         query.Get("code"),
			StateID:      query.Get("state"),
			IPAddress:    s.clientIP(r),
			UserAgent:    r.UserAgent(),
		})
		if err != nil {
			log.Warn().Err(err).Str("provider", slug).Msg("federated callback failed")
			s.redirectWithError(w, r)
			return
		}

		if result.LinkMode {
			path := result.RedirectPath
			if path == "" {
				path = RouteFrontendSettings
			}
			s.frontendRedirect(w, r, path, url.Values{"idp_link": {"success"}})
			return
		}

		if result.Session != nil {
			s.SetRefreshCookie(w, result.Session.RefreshToken, result.Session.RefreshTokenExpiresAt)
		}
		values := url.Values{
			"sso":        {"success"},
			"session_id": {result.SessionID},
		}
		if result.RedirectPath != "" {
			values.Set("redirect", result.RedirectPath)
		}
		s.frontendRedirect(w, r, RouteFrontendLogin, values)
	}
}

// MobileTokenExchangeHandler hands a pending mobile session its tokens once.
func (s *Server) MobileTokenExchangeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenExchangeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, r, err)
			return
		}
		if req.CodeVerifier == "" {
			writeJSONError(w, r, badRequest("code_verifier is required"))
			return
		}

		issued, err := s.auth.ExchangeMobileTokens(r.Context(), r.PathValue("session_id"), req.CodeVerifier)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, issued.Response())
	}
}
