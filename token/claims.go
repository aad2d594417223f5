package token

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-session-auth/internal/utils"
	"github.com/pkg/errors"
)

// Claim names understood by GetTokenClaim.
const (
	ClaimSubject   = "sub"
	ClaimSessionID = "sid"
	ClaimScope     = "scope"
	ClaimTokenID   = "jti"
	ClaimType      = "typ"
)

// Token kinds carried in the typ claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims is the strict schema every signed token is decoded into.
type Claims struct {
	Subject   int64
	SessionID string
	Scopes    []string
	Type      string
	ID        string
	Issuer    string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

func (c *Claims) toMap(audience string) jwt.MapClaims {
	mc := jwt.MapClaims{
		ClaimSubject:   c.Subject,
		ClaimSessionID: c.SessionID,
		ClaimScope:     c.Scopes,
		ClaimType:      c.Type,
		ClaimTokenID:   c.ID,
		"iat":          c.IssuedAt.Unix(),
		"exp":          c.ExpiresAt.Unix(),
	}
	if c.Issuer != "" {
		mc["iss"] = c.Issuer
	}
	if audience != "" {
		mc["aud"] = audience
	}
	return mc
}

// decodeClaims maps wire claims onto Claims. Values of the wrong type are
// rejected, never coerced. Numbers must arrive as json.Number.
func decodeClaims(mc jwt.MapClaims) (*Claims, error) {
	c := &Claims{}

	num, ok := mc[ClaimSubject].(json.Number)
	if !ok {
		return nil, errors.Errorf("claim %q must be an integer", ClaimSubject)
	}
	sub, err := num.Int64()
	if err != nil {
		return nil, errors.Wrapf(err, "claim %q must be an integer", ClaimSubject)
	}
	c.Subject = sub

	if c.SessionID, ok = mc[ClaimSessionID].(string); !ok || c.SessionID == "" {
		return nil, errors.Errorf("claim %q must be a non-empty string", ClaimSessionID)
	}

	switch raw := mc[ClaimScope].(type) {
	case nil:
		c.Scopes = []string{}
	case []any:
		if c.Scopes, ok = utils.ToStringSlice(raw); !ok {
			return nil, errors.Errorf("claim %q must be a list of strings", ClaimScope)
		}
	default:
		return nil, errors.Errorf("claim %q must be a list of strings", ClaimScope)
	}

	if c.Type, ok = mc[ClaimType].(string); !ok || (c.Type != TypeAccess && c.Type != TypeRefresh) {
		return nil, errors.Errorf("claim %q must be %q or %q", ClaimType, TypeAccess, TypeRefresh)
	}

	if c.ID, ok = mc[ClaimTokenID].(string); !ok || c.ID == "" {
		return nil, errors.Errorf("claim %q must be a non-empty string", ClaimTokenID)
	}

	if iss, present := mc["iss"]; present {
		if c.Issuer, ok = iss.(string); !ok {
			return nil, errors.New("claim \"iss\" must be a string")
		}
	}

	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, errors.New("claim \"exp\" missing or malformed")
	}
	c.ExpiresAt = exp.Time

	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}

	return c, nil
}

// Value returns the typed value of a single claim:
// sub is int64, sid/jti/typ are string, scope is []string.
func (c *Claims) Value(name string) (any, error) {
	switch name {
	case ClaimSubject:
		return c.Subject, nil
	case ClaimSessionID:
		return c.SessionID, nil
	case ClaimScope:
		return c.Scopes, nil
	case ClaimTokenID:
		return c.ID, nil
	case ClaimType:
		return c.Type, nil
	default:
		return nil, errors.Errorf("unsupported claim %q", name)
	}
}
