package server

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-session-auth/auth"
	"github.com/jrsteele09/go-session-auth/clients"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeJSON = "application/json"

	// headerCSRFToken carries the CSRF token echoed back by web clients.
	headerCSRFToken = "X-CSRF-Token"

	// ssoFailed is the only error marker the federated routes hand the frontend.
	ssoFailed = "sso_failed"
)

type errorResponse struct {
	Detail           string `json:"detail"`
	SecondsRemaining int    `json:"seconds_remaining,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeJSONError maps err onto its status code and a client-safe detail.
func writeJSONError(w http.ResponseWriter, r *http.Request, err error) {
	status := autherrors.HTTPStatus(err)
	resp := errorResponse{Detail: autherrors.PublicMessage(err)}

	var typed *autherrors.Error
	if autherrors.As(err, &typed) && typed.Kind == autherrors.KindTooManyRequests {
		resp.SecondsRemaining = typed.SecondsRemaining
		w.Header().Set("Retry-After", strconv.Itoa(typed.SecondsRemaining))
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	if status >= http.StatusInternalServerError {
		log.Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func badRequest(message string) error {
	return autherrors.New(autherrors.KindBadRequest, message)
}

// decodeJSON reads a small JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body")
	}
	return nil
}

// clientInfo reads the caller's client type, address and user agent.
func (s *Server) clientInfo(r *http.Request) (auth.ClientInfo, error) {
	clientType, err := clients.Parse(r.Header.Get(clients.HeaderClientType))
	if err != nil {
		return auth.ClientInfo{}, err
	}
	return auth.ClientInfo{
		Type:      clientType,
		IPAddress: s.clientIP(r),
		UserAgent: r.UserAgent(),
	}, nil
}

// clientIP is the peer address unless the peer is a trusted proxy, in which
// case X-Forwarded-For is walked right to left past further trusted hops.
func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !s.proxies.Contains(peer) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		addr, err := netip.ParseAddr(hop)
		if err != nil {
			break
		}
		host = addr.Unmap().String()
		if !s.proxies.Contains(addr) {
			break
		}
	}
	return host
}

func bearerToken(r *http.Request) string {
	scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}

func (s *Server) refreshCookieName() string {
	return s.config.GetAppName() + "_refresh_token"
}

// SetRefreshCookie stores a web client's refresh token.
func (s *Server) SetRefreshCookie(w http.ResponseWriter, refreshToken string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName(),
		Value:    refreshToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.IsSecureDeployment(),
		SameSite: http.SameSiteStrictMode,
		Expires:  expiresAt,
	})
}

func (s *Server) ClearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName(),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.IsSecureDeployment(),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

// refreshToken reads the cookie for web clients and the bearer header for mobile.
func (s *Server) refreshToken(r *http.Request, clientType clients.ClientType) string {
	if clientType.IsMobile() {
		return bearerToken(r)
	}
	cookie, err := r.Cookie(s.refreshCookieName())
	if err != nil {
		return ""
	}
	return cookie.Value
}

// writeSession sends an issued session, moving the refresh token into the
// cookie for web clients.
func (s *Server) writeSession(w http.ResponseWriter, issued *auth.IssuedSession) {
	if issued.ClientType.IsWeb() {
		s.SetRefreshCookie(w, issued.RefreshToken, issued.RefreshTokenExpiresAt)
	}
	writeJSON(w, http.StatusOK, issued.Response())
}

// frontendRedirect sends the browser to a frontend path with query values.
func (s *Server) frontendRedirect(w http.ResponseWriter, r *http.Request, path string, query url.Values) {
	target := s.config.GetFrontendURL() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// redirectWithError lands the browser on the frontend login page with the
// generic SSO failure marker.
func (s *Server) redirectWithError(w http.ResponseWriter, r *http.Request) {
	s.frontendRedirect(w, r, RouteFrontendLogin, url.Values{"error": {ssoFailed}})
}
