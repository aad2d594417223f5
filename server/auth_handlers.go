package server

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/go-session-auth/auth"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/oauth2"
	"github.com/jrsteele09/go-session-auth/sessions"
	"github.com/pkg/errors"
)

type mfaVerifyRequest struct {
	Username string `json:"username"`
	MFACode  string `json:"mfa_code"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// LoginHandler accepts a form-encoded username and password.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, err := s.clientInfo(r)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, r, badRequest("invalid form"))
			return
		}
		username := strings.TrimSpace(r.PostFormValue("username"))
		password := r.PostFormValue("password")
		if username == "" || password == "" {
			writeJSONError(w, r, badRequest("username and password are required"))
			return
		}

		result, err := s.auth.Login(r.Context(), client, username, password)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}

		if result.MFARequired {
			resp := oauth2.MFARequiredResponse{
				MFARequired: true,
				Message:     "MFA verification required",
			}
			if client.Type.IsMobile() {
				resp.Username = result.Username
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}
		s.writeSession(w, result.Session)
	}
}

func (s *Server) MFAVerifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, err := s.clientInfo(r)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		var req mfaVerifyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, r, err)
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		req.MFACode = strings.TrimSpace(req.MFACode)
		if req.Username == "" || req.MFACode == "" {
			writeJSONError(w, r, badRequest("username and mfa_code are required"))
			return
		}

		issued, err := s.auth.VerifyMFA(r.Context(), client, req.Username, req.MFACode)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		s.writeSession(w, issued)
	}
}

// RefreshHandler rotates the session. Web clients present the refresh
// cookie and may send X-CSRF-Token; mobile clients send the refresh token
// as a bearer token.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, err := s.clientInfo(r)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}

		issued, err := s.auth.Refresh(r.Context(), auth.RefreshRequest{
			Client:       client,
			RefreshToken: s.refreshToken(r, client.Type),
			CSRFToken:    r.Header.Get(headerCSRFToken),
		})
		if err != nil {
			// a lost rotation race leaves the winner's cookie in place
			if client.Type.IsWeb() && autherrors.KindOf(err) == autherrors.KindUnauthorized &&
				!errors.Is(err, sessions.ErrRotationConflict) {
				s.ClearRefreshCookie(w)
			}
			writeJSONError(w, r, err)
			return
		}
		s.writeSession(w, issued)
	}
}

// LogoutHandler needs the access token as a bearer token plus the refresh
// token: the cookie for web, a JSON body for mobile.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, err := s.clientInfo(r)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}

		refreshToken := s.refreshToken(r, client.Type)
		if client.Type.IsMobile() {
			var req logoutRequest
			if err := decodeJSON(r, &req); err != nil {
				writeJSONError(w, r, err)
				return
			}
			refreshToken = req.RefreshToken
		}

		err = s.auth.Logout(r.Context(), auth.LogoutRequest{
			ClientType:   client.Type,
			AccessToken:  bearerToken(r),
			RefreshToken: refreshToken,
		})
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		if client.Type.IsWeb() {
			s.ClearRefreshCookie(w)
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: "Logout successful"})
	}
}
