package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Tokens is the result of one CreateTokens call.
type Tokens struct {
	AccessToken           string
	RefreshToken          string
	CSRFToken             string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
}

type Manager struct {
	signer             Signer
	issuer             string
	audience           string
	revokedCache       RevokedTokenCache
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	nowFunc            func() time.Time
}

type ManagerOption func(*Manager)

func WithTokenExpiry(accessTokenExpiry time.Duration, refreshTokenExpiry time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessTokenExpiry = accessTokenExpiry
		m.refreshTokenExpiry = refreshTokenExpiry
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func WithIssuer(issuer string) ManagerOption {
	return func(m *Manager) {
		m.issuer = issuer
	}
}

func WithAudience(audience string) ManagerOption {
	return func(m *Manager) {
		m.audience = audience
	}
}

func WithRevokedTokenCache(cache RevokedTokenCache) ManagerOption {
	return func(m *Manager) {
		m.revokedCache = cache
	}
}

func New(signer Signer, options ...ManagerOption) *Manager {
	m := &Manager{
		signer: signer,
	}

	for _, opt := range options {
		opt(m)
	}

	if m.accessTokenExpiry == 0 {
		m.accessTokenExpiry = 15 * time.Minute
	}
	if m.refreshTokenExpiry == 0 {
		m.refreshTokenExpiry = 7 * 24 * time.Hour
	}
	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}
	if m.revokedCache == nil {
		m.revokedCache = NewInMemoryRevokedTokenCache(m.nowFunc)
	}
	return m
}

// AccessTokenExpiry is the lifetime of issued access tokens.
func (m *Manager) AccessTokenExpiry() time.Duration {
	return m.accessTokenExpiry
}

// RefreshTokenExpiry is the lifetime of issued refresh tokens.
func (m *Manager) RefreshTokenExpiry() time.Duration {
	return m.refreshTokenExpiry
}

// CreateTokens mints an access token, a refresh token and an opaque CSRF token
// for one session.
func (m *Manager) CreateTokens(userID int64, sessionID string, scopes []string) (*Tokens, error) {
	if sessionID == "" {
		return nil, errors.New("[Manager.CreateTokens] session id is required")
	}
	if scopes == nil {
		scopes = []string{}
	}

	now := m.nowFunc()
	tokens := &Tokens{
		AccessTokenExpiresAt:  now.Add(m.accessTokenExpiry),
		RefreshTokenExpiresAt: now.Add(m.refreshTokenExpiry),
	}

	var err error
	tokens.AccessToken, err = m.sign(&Claims{
		Subject:   userID,
		SessionID: sessionID,
		Scopes:    scopes,
		Type:      TypeAccess,
		ID:        uuid.NewString(),
		Issuer:    m.issuer,
		IssuedAt:  now,
		ExpiresAt: tokens.AccessTokenExpiresAt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.CreateTokens] access token")
	}

	tokens.RefreshToken, err = m.sign(&Claims{
		Subject:   userID,
		SessionID: sessionID,
		Scopes:    scopes,
		Type:      TypeRefresh,
		ID:        uuid.NewString(),
		Issuer:    m.issuer,
		IssuedAt:  now,
		ExpiresAt: tokens.RefreshTokenExpiresAt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.CreateTokens] refresh token")
	}

	tokens.CSRFToken, err = NewOpaqueToken()
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.CreateTokens] csrf token")
	}
	return tokens, nil
}

// ValidateTokenExpiration checks the signature and expiry of a token.
// It returns ErrTokenExpired for an expired but otherwise valid token and
// ErrInvalidToken for everything else.
func (m *Manager) ValidateTokenExpiration(rawToken string) error {
	_, err := m.parse(rawToken)
	return err
}

// GetTokenClaim returns a single typed claim from a valid token.
func (m *Manager) GetTokenClaim(rawToken, name string) (any, error) {
	claims, err := m.parse(rawToken)
	if err != nil {
		return nil, err
	}
	v, err := claims.Value(name)
	if err != nil {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidToken, "%s", err.Error())
	}
	return v, nil
}

// ParseAccessToken validates an access token and rejects revoked ones.
func (m *Manager) ParseAccessToken(rawToken string) (*Claims, error) {
	claims, err := m.parseKind(rawToken, TypeAccess)
	if err != nil {
		return nil, err
	}
	if m.revokedCache.IsRevoked(claims.ID) {
		log.Warn().Str("jti", claims.ID).Msg("revoked access token presented")
		return nil, autherrors.ErrInvalidToken
	}
	return claims, nil
}

// ParseRefreshToken validates a refresh token.
func (m *Manager) ParseRefreshToken(rawToken string) (*Claims, error) {
	return m.parseKind(rawToken, TypeRefresh)
}

// RevokeAccessToken stops a still-valid access token from being accepted again.
func (m *Manager) RevokeAccessToken(rawToken string) error {
	claims, err := m.parseKind(rawToken, TypeAccess)
	if err != nil {
		return err
	}
	return m.revokedCache.Add(claims.ID, claims.ExpiresAt)
}

// CleanupRevokedTokens removes expired tokens from the revocation cache
func (m *Manager) CleanupRevokedTokens() {
	m.revokedCache.Cleanup()
}

func (m *Manager) parseKind(rawToken, kind string) (*Claims, error) {
	claims, err := m.parse(rawToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != kind {
		log.Warn().Str("expected", kind).Str("got", claims.Type).Msg("token type mismatch")
		return nil, autherrors.ErrInvalidToken
	}
	return claims, nil
}

func (m *Manager) parse(rawToken string) (*Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, autherrors.ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithJSONNumber(),
		jwt.WithTimeFunc(m.nowFunc),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{m.signer.GetSigningMethod().Alg()}),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	token, err := jwt.NewParser(opts...).Parse(rawToken, m.signer.GetVerificationKey)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			log.Debug().Msg("token expired")
			return nil, autherrors.ErrTokenExpired
		}
		log.Warn().Err(err).Msg("invalid token")
		return nil, autherrors.ErrInvalidToken
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, autherrors.ErrInvalidToken
	}

	claims, err := decodeClaims(mc)
	if err != nil {
		log.Warn().Err(err).Msg("token claims rejected")
		return nil, autherrors.ErrInvalidToken
	}
	return claims, nil
}

func (m *Manager) sign(c *Claims) (string, error) {
	return m.signer.Sign(c.toMap(m.audience))
}
