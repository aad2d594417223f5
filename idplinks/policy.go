package idplinks

import "time"

// Action is the result of Classify.
type Action int

const (
	ActionSkip Action = iota
	ActionRefresh
	ActionClear
)

func (a Action) String() string {
	switch a {
	case ActionRefresh:
		return "refresh"
	case ActionClear:
		return "clear"
	default:
		return "skip"
	}
}

const (
	// RefreshWindow is how close to expiry a provider access token gets refreshed.
	RefreshWindow = 5 * time.Minute

	// MaxRefreshTokenAge forces a re-link once a stored refresh token gets this old.
	MaxRefreshTokenAge = 90 * 24 * time.Hour
)

// Classify decides what to do with a link's stored provider tokens at now.
// It has no side effects.
func Classify(link *Link, now time.Time) Action {
	if link == nil || !link.HasRefreshToken() {
		return ActionSkip
	}
	if link.RefreshTokenUpdatedAt != nil && now.Sub(*link.RefreshTokenUpdatedAt) > MaxRefreshTokenAge {
		return ActionClear
	}
	if link.AccessTokenExpiresAt == nil {
		return ActionSkip
	}
	if link.AccessTokenExpiresAt.Sub(now) <= RefreshWindow {
		return ActionRefresh
	}
	return ActionSkip
}
