package housekeeping_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-auth/clients"
	"github.com/jrsteele09/go-session-auth/housekeeping"
	"github.com/jrsteele09/go-session-auth/oauthstate"
	staterepofakes "github.com/jrsteele09/go-session-auth/oauthstate/repofakes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	removed  map[string]int64
	finished int
}

func (o *recordingObserver) SweepRemoved(kind string, n int64) { o.removed[kind] += n }
func (o *recordingObserver) SweepFinished(time.Time)           { o.finished++ }

func TestRunOnce_RemovesExpiredStates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	states := oauthstate.NewStore(staterepofakes.NewFakeStateRepo(), oauthstate.WithNowFunc(func() time.Time { return now }))
	ctx := context.Background()

	_, err := states.Create(ctx, oauthstate.CreateParams{ProviderID: 1, Nonce: "n1", ClientType: clients.ClientTypeWeb})
	require.NoError(t, err)
	_, err = states.Create(ctx, oauthstate.CreateParams{ProviderID: 1, Nonce: "n2", ClientType: clients.ClientTypeWeb})
	require.NoError(t, err)
	now = now.Add(oauthstate.Lifetime + time.Second)

	observer := &recordingObserver{removed: map[string]int64{}}
	sweeper := housekeeping.NewSweeper(housekeeping.WithObserver(observer))
	sweeper.Add("oauth_states", states.DeleteExpired)

	removed := sweeper.RunOnce(ctx)
	assert.Equal(t, int64(2), removed["oauth_states"])
	assert.Equal(t, int64(2), observer.removed["oauth_states"])
	assert.Equal(t, 1, observer.finished)

	removed = sweeper.RunOnce(ctx)
	assert.Equal(t, int64(0), removed["oauth_states"])
	assert.Equal(t, int64(2), observer.removed["oauth_states"])
}

func TestRunOnce_IsolatesFailures(t *testing.T) {
	var ran []string
	sweeper := housekeeping.NewSweeper()
	sweeper.Add("broken", func(context.Context) (int64, error) {
		ran = append(ran, "broken")
		return 0, errors.New("db down")
	})
	sweeper.Add("panics", func(context.Context) (int64, error) {
		ran = append(ran, "panics")
		panic("boom")
	})
	sweeper.Add("counters", housekeeping.Counting(func() int {
		ran = append(ran, "counters")
		return 4
	}))
	sweeper.Add("revoked", housekeeping.Discarding(func() {
		ran = append(ran, "revoked")
	}))

	removed := sweeper.RunOnce(context.Background())
	assert.Equal(t, []string{"broken", "panics", "counters", "revoked"}, ran)
	assert.Equal(t, map[string]int64{"counters": 4, "revoked": 0}, removed)
}

func TestRunOnce_BoundsTasksWithTimeout(t *testing.T) {
	sweeper := housekeeping.NewSweeper(housekeeping.WithTimeout(time.Millisecond))
	sweeper.Add("slow", func(ctx context.Context) (int64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	removed := sweeper.RunOnce(context.Background())
	assert.NotContains(t, removed, "slow")
}

func TestStartAndStop(t *testing.T) {
	sweeper := housekeeping.NewSweeper()
	require.Error(t, sweeper.Start("not a schedule"))

	require.NoError(t, sweeper.Start(housekeeping.DefaultSchedule))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sweeper.Stop(ctx)

	// stopping twice is harmless
	sweeper.Stop(ctx)
}
