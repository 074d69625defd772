// Package app wires the qck auth server: config, logging, storage, the
// session engine, HTTP routes and the ledger sweeper.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"qck/cmd/identity"
	authapi "qck/cmd/internal/auth/api"
	"qck/cmd/internal/auth/session"
)

// App owns the process-wide resources and the HTTP server.
type App struct {
	cfg Config
	log Logger

	pool *pgxpool.Pool
	rdb  *redis.Client

	registry *prometheus.Registry
	sessions *session.Service
	sweeper  *session.Sweeper
	auth     *authapi.Handler

	handler http.Handler
}

// New constructs a fully wired App. Without a database URL the ledger and
// user directory live in process; without a Redis URL so does the
// revocation cache.
func New(ctx context.Context, cfg Config, log Logger) (a *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	keys, hasher, err := ValidateSecurityConfig()
	if err != nil {
		return nil, err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pw, err := identity.PasswordConfigFromEnv()
	if err != nil {
		return nil, err
	}

	a = &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := session.NewMetrics(a.registry)
	if err != nil {
		return nil, err
	}

	var (
		ledger session.Ledger
		users  identity.Directory
		audit  authapi.AuditSink
		cache  session.RevocationCache
	)

	if cfg.DatabaseURL != "" {
		if a.pool, err = NewDBPool(ctx, cfg); err != nil {
			return nil, err
		}
		dir, err := identity.NewPostgresDirectory(a.pool, identity.WithPasswordConfig(pw))
		if err != nil {
			return nil, err
		}
		ledger = session.NewPostgresLedger(a.pool)
		users = dir
		audit = authapi.NewPostgresAudit(a.pool, log)
		log.Info("db.enabled.postgres_store")
	} else {
		ledger = session.NewMemoryLedger()
		users = identity.NewMemoryDirectory(pw)
		log.Info("db.disabled.inmemory_store")
	}

	if cfg.RedisURL != "" {
		if a.rdb, err = NewRedisClient(ctx, cfg.RedisURL); err != nil {
			return nil, err
		}
		cache = session.NewRedisRevocationCache(a.rdb)
		log.Info("revocation_cache.redis")
	} else {
		cache = session.NewMemoryRevocationCache(nil)
		log.Info("revocation_cache.memory")
	}

	a.sessions, err = session.NewService(sessCfg, keys, hasher, ledger, cache, authapi.Profiles(users),
		session.WithLogger(log.With("component", "session")),
		session.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	if sessCfg.SweepSchedule != "" {
		if a.sweeper, err = session.NewSweeper(a.sessions, sessCfg.SweepSchedule, log.With("component", "sweeper")); err != nil {
			return nil, err
		}
	}

	opts := []authapi.HandlerOption{authapi.WithPasswordConfig(pw)}
	if audit != nil {
		opts = append(opts, authapi.WithAudit(audit))
	}
	if a.auth, err = authapi.NewHandler(log.With("component", "authapi"), authapi.LoadConfigFromEnv(), a.sessions, users, opts...); err != nil {
		return nil, err
	}

	if err := seedDevUser(ctx, users, cfg.DevUser, log); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	a.registerHTTP(mux)
	a.handler = WithRequestLogging(WithSecurityHeaders(WithCORS(mux, cfg, log)), log)

	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP and runs the sweeper until ctx is done or either fails.
// Resources are released before Run returns.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server.start",
			"addr", a.cfg.HTTPAddr,
			"db_enabled", a.pool != nil,
			"redis_enabled", a.rdb != nil,
			"sweeper_enabled", a.sweeper != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	if a.sweeper != nil {
		g.Go(func() error { return a.sweeper.Run(gctx) })
	}

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

func (a *App) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.rdb = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// seedDevUser creates the configured dev account unless it already exists.
func seedDevUser(ctx context.Context, users identity.Directory, u DevUser, log Logger) error {
	if u.Email == "" {
		return nil
	}
	created, err := users.CreateUser(ctx, identity.CreateUserInput{
		Email:    u.Email,
		Password: u.Password,
		Tier:     u.Tier,
	})
	switch {
	case identity.IsConflict(err):
		log.Info("dev_user.exists", "email", identity.NormalizeEmail(u.Email))
		return nil
	case err != nil:
		return err
	}
	log.Warn("dev_user.created", "user_id", created.ID, "email", created.Email, "tier", created.Tier)
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
