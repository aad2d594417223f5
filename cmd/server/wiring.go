package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/jrsteele09/go-session-auth/auth"
	"github.com/jrsteele09/go-session-auth/credentials"
	"github.com/jrsteele09/go-session-auth/housekeeping"
	"github.com/jrsteele09/go-session-auth/idp"
	"github.com/jrsteele09/go-session-auth/idplinks"
	linkrepofakes "github.com/jrsteele09/go-session-auth/idplinks/repofakes"
	linksql "github.com/jrsteele09/go-session-auth/idplinks/sqlrepo"
	"github.com/jrsteele09/go-session-auth/internal/config"
	"github.com/jrsteele09/go-session-auth/internal/secretbox"
	"github.com/jrsteele09/go-session-auth/lockout"
	"github.com/jrsteele09/go-session-auth/metrics"
	"github.com/jrsteele09/go-session-auth/mfa"
	"github.com/jrsteele09/go-session-auth/oauthstate"
	staterepofakes "github.com/jrsteele09/go-session-auth/oauthstate/repofakes"
	statesql "github.com/jrsteele09/go-session-auth/oauthstate/sqlrepo"
	"github.com/jrsteele09/go-session-auth/server"
	"github.com/jrsteele09/go-session-auth/sessions"
	sessionrepofakes "github.com/jrsteele09/go-session-auth/sessions/repofakes"
	sessionsql "github.com/jrsteele09/go-session-auth/sessions/sqlrepo"
	"github.com/jrsteele09/go-session-auth/token"
	"github.com/jrsteele09/go-session-auth/users"
	fakeuserrepo "github.com/jrsteele09/go-session-auth/users/repofake"
	usersql "github.com/jrsteele09/go-session-auth/users/sqlrepo"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// counterIdle is how long an in-process lockout counter may sit unused before the sweeper drops it.
const counterIdle = 24 * time.Hour

type application struct {
	handler http.Handler
	sweeper *housekeeping.Sweeper
	closers []func() error
}

func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

type userStore interface {
	users.UserRepo
	users.Creator
}

type repositories struct {
	users    userStore
	states   oauthstate.Repo
	sessions sessions.Repo
	links    idplinks.Repo
}

// openRepositories uses postgres when DATABASE_URL is set and in-memory fakes otherwise.
func openRepositories(ctx context.Context, c config.Config, app *application) (*repositories, *sql.DB, error) {
	if c.GetDatabaseURL() == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory repositories")
		stateRepo := staterepofakes.NewFakeStateRepo()
		return &repositories{
			users:    fakeuserrepo.NewFakeUserRepo(),
			states:   stateRepo,
			sessions: sessionrepofakes.NewFakeSessionRepo(stateRepo),
			links:    linkrepofakes.NewFakeLinkRepo(),
		}, nil, nil
	}

	db, err := sql.Open("postgres", c.GetDatabaseURL())
	if err != nil {
		return nil, nil, errors.Wrap(err, "[openRepositories] sql.Open")
	}
	app.closers = append(app.closers, db.Close)
	if err := db.PingContext(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "[openRepositories] db.PingContext")
	}

	userRepo, stateRepo, sessionRepo, linkRepo := usersql.New(db), statesql.New(db), sessionsql.New(db), linksql.New(db)
	// sessions reference oauth_states, so order matters
	for _, ensure := range []func(context.Context) error{
		userRepo.EnsureSchema,
		stateRepo.EnsureSchema,
		sessionRepo.EnsureSchema,
		linkRepo.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			return nil, nil, err
		}
	}
	return &repositories{users: userRepo, states: stateRepo, sessions: sessionRepo, links: linkRepo}, db, nil
}

func openRedis(ctx context.Context, c config.Config, app *application) (*redis.Client, error) {
	if c.GetRedisURL() == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(c.GetRedisURL())
	if err != nil {
		return nil, errors.Wrap(err, "[openRedis] redis.ParseURL")
	}
	client := redis.NewClient(opts)
	app.closers = append(app.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "[openRedis] redis.Ping")
	}
	return client, nil
}

func newSigner(c config.Config) (token.Signer, error) {
	file := c.GetPrivateKeyFile()
	if file == "" {
		return token.NewSigner(c.GetAlgorithm(), c.GetSecretKey())
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "[newSigner] read signing key")
	}
	keyPair, err := token.LoadKeyPairFromPEM(c.GetKeyID(), string(data))
	if err != nil {
		return nil, err
	}
	return token.NewKeyPairSigner(keyPair), nil
}

func build(ctx context.Context, c config.Config) (_ *application, returnError error) {
	app := &application{}
	defer func() {
		if returnError != nil {
			app.Close()
		}
	}()

	key, err := c.GetEncryptionKey()
	if err != nil {
		return nil, err
	}
	box, err := secretbox.New(key)
	if err != nil {
		return nil, err
	}

	signer, err := newSigner(c)
	if err != nil {
		return nil, err
	}
	tokens := token.New(signer,
		token.WithTokenExpiry(c.GetAccessTokenExpiry(), c.GetRefreshTokenExpiry()),
		token.WithIssuer(c.GetIssuer()),
		token.WithAudience(c.GetAudience()),
	)

	var providers []config.IdentityProvider
	if file := c.GetIdentityProviderFile(); file != "" {
		if providers, err = config.LoadIdentityProviders(file); err != nil {
			return nil, err
		}
	}
	registry := idp.NewRegistry(providers, c.GetBaseURL(), c.GetProviderHTTPTimeout())

	repos, db, err := openRepositories(ctx, c, app)
	if err != nil {
		return nil, err
	}
	redisClient, err := openRedis(ctx, c, app)
	if err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(promRegistry)
	app.sweeper = housekeeping.NewSweeper(housekeeping.WithObserver(recorder))

	states := oauthstate.NewStore(repos.states)
	sessionStore := sessions.NewStore(repos.sessions,
		sessions.WithIdleTimeout(c.GetIdleTimeoutEnabled(), c.GetIdleTimeout()),
		sessions.WithAbsoluteTimeout(c.GetAbsoluteTimeout()),
		sessions.WithRefreshExpiry(c.GetRefreshTokenExpiry()),
		sessions.WithReuseGracePeriod(c.GetReuseGracePeriod()),
	)

	deps := auth.Deps{
		Users:       repos.users,
		Credentials: credentials.NewVerifier(repos.users, box),
		Tokens:      tokens,
		Sessions:    sessionStore,
		States:      states,
		Providers:   registry,
		Links:       idplinks.NewManager(repos.links, box, registry),
	}
	if redisClient != nil {
		deps.LoginLockout = lockout.NewRedisCounter(redisClient, lockout.LoginPolicy)
		deps.MFALockout = lockout.NewRedisCounter(redisClient, lockout.MFAPolicy)
		deps.PendingMFA = mfa.NewRedisPendingStore(redisClient, mfa.DefaultPendingTTL)
	} else {
		loginCounter := lockout.NewMemoryCounter(lockout.LoginPolicy)
		mfaCounter := lockout.NewMemoryCounter(lockout.MFAPolicy)
		pending := mfa.NewMemoryPendingStore(mfa.DefaultPendingTTL, time.Now)
		deps.LoginLockout, deps.MFALockout, deps.PendingMFA = loginCounter, mfaCounter, pending

		app.sweeper.Add("login_lockout", housekeeping.Counting(func() int { return loginCounter.Cleanup(counterIdle) }))
		app.sweeper.Add("mfa_lockout", housekeeping.Counting(func() int { return mfaCounter.Cleanup(counterIdle) }))
		app.sweeper.Add("pending_mfa", housekeeping.Counting(pending.Cleanup))
	}
	app.sweeper.Add("oauth_states", states.DeleteExpired)
	app.sweeper.Add("sessions", sessionStore.DeleteExpired)
	app.sweeper.Add("revoked_tokens", housekeeping.Discarding(tokens.CleanupRevokedTokens))

	service, err := auth.NewService(deps,
		auth.WithObserver(recorder),
		auth.WithRevokeOnLogout(c.GetRevokeOnLogout()),
	)
	if err != nil {
		return nil, err
	}

	if password, err := users.EnsureAdmin(ctx, repos.users, c.GetAdminUsername(), c.GetAdminPassword()); err != nil {
		return nil, err
	} else if password != "" && c.GetAdminPassword() == "" {
		log.Warn().Str("username", c.GetAdminUsername()).Str("password", password).Msg("admin account created with a generated password")
	}

	options := []server.ServerOption{server.WithMetricsHandler(recorder.Handler())}
	if db != nil {
		options = append(options, server.WithHealthCheck("postgres", db.PingContext))
	}
	if redisClient != nil {
		options = append(options, server.WithHealthCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}
	srv, err := server.New(c, service, tokens, options...)
	if err != nil {
		return nil, err
	}
	app.handler = recorder.Middleware(srv)
	return app, nil
}
