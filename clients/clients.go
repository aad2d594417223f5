package clients

import (
	"strings"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
)

// HeaderClientType is the request header naming the calling client.
const HeaderClientType = "X-Client-Type"

type ClientType string

const (
	ClientTypeWeb    ClientType = "web"    // Browser; refresh token lives in an HttpOnly cookie
	ClientTypeMobile ClientType = "mobile" // Native app; every token is returned in the body
)

// Parse maps a header value onto a known client type. Anything else is forbidden.
func Parse(value string) (ClientType, error) {
	switch ClientType(strings.ToLower(strings.TrimSpace(value))) {
	case ClientTypeWeb:
		return ClientTypeWeb, nil
	case ClientTypeMobile:
		return ClientTypeMobile, nil
	default:
		return "", autherrors.ErrInvalidClientType
	}
}

func (c ClientType) IsWeb() bool {
	return c == ClientTypeWeb
}

func (c ClientType) IsMobile() bool {
	return c == ClientTypeMobile
}

// Valid reports whether c is one of the known client types.
func (c ClientType) Valid() bool {
	return c == ClientTypeWeb || c == ClientTypeMobile
}
