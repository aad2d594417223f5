package oauthstate

import (
	"context"
	"time"
)

type Repo interface {
	Create(ctx context.Context, state *State) error
	Get(ctx context.Context, id string) (*State, error)
	// MarkUsed flips used to true only if the state is unused and unexpired at now,
	// reporting whether this call made the transition.
	MarkUsed(ctx context.Context, id string, now time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
