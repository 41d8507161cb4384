package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/modelproof/xaibench/internal/cache"
	"github.com/modelproof/xaibench/internal/jobs"
	"github.com/modelproof/xaibench/internal/leaderboard"
	"github.com/modelproof/xaibench/internal/quality"
	"github.com/modelproof/xaibench/internal/store"
)

// env bundles the wired domain components for one command invocation.
type env struct {
	Store     store.Store
	Cache     cache.Cache
	Orch      *jobs.Orchestrator
	Evaluator *quality.Evaluator
	Board     *leaderboard.Builder
}

func (e *env) Close() {
	if c, ok := e.Cache.(*cache.Redis); ok {
		_ = c.Close()
	}
	_ = e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "xaibench.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initCache(ctx context.Context) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemory(cfg.Cache.MaxEntries), nil
	case "redis":
		ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
		return cache.NewRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisDB, ttl)
	default:
		return nil, eris.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
}

// initEnv wires store, cache, orchestrator, evaluator and leaderboard, and
// runs migrations.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	c, err := initCache(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}

	evaluator := quality.NewEvaluator(
		quality.WithRounds(cfg.Quality.RobustnessRounds),
		quality.WithEpsilon(cfg.Quality.Epsilon),
	)

	return &env{
		Store:     st,
		Cache:     c,
		Orch:      jobs.New(st, c, jobs.WithWorkers(cfg.Jobs.Workers)),
		Evaluator: evaluator,
		Board:     leaderboard.New(st, evaluator),
	}, nil
}
