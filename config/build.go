package config

import (
	"context"
	"fmt"

	"github.com/jonwraymond/callcache/artifact"
	"github.com/jonwraymond/callcache/codec"
	"github.com/jonwraymond/callcache/executor"
	"github.com/jonwraymond/callcache/health"
	"github.com/jonwraymond/callcache/observe"
	"github.com/jonwraymond/callcache/store"
)

// Engine bundles the wired components of a cache deployment.
type Engine struct {
	Executor  *executor.Executor
	Registry  *codec.Registry
	Entries   store.Store
	Artifacts artifact.Store
	Health    *health.Aggregator

	policy   store.Policy
	observer observe.Observer
}

// Build wires the engine described by cfg: codec registry with the
// file codec, entry store (Postgres when a DSN is set, in-memory
// otherwise), artifact store (filesystem or Redis), observability,
// and health checks.
func Build(ctx context.Context, cfg *Config, opts ...executor.Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var artifacts artifact.Store
	switch {
	case cfg.Artifacts.Root != "":
		fs, err := artifact.NewFSStore(cfg.Artifacts.Root)
		if err != nil {
			return nil, err
		}
		artifacts = fs
	default:
		artifacts = artifact.NewRedisStore(artifact.RedisStoreConfig{
			Addr:     cfg.Artifacts.RedisAddr,
			Password: cfg.Artifacts.RedisPassword,
			DB:       cfg.Artifacts.RedisDB,
		})
	}

	reg := codec.NewRegistry()
	if err := reg.RegisterCapability(codec.FileCapability, codec.NewFileCodec(artifacts, cfg.SpoolDir)); err != nil {
		return nil, err
	}

	var entries store.Store
	if cfg.CacheDB != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.CacheDB,
			store.WithPostgresClaimStale(cfg.Claim.Stale.Std()))
		if err != nil {
			return nil, err
		}
		entries = pg
	} else {
		entries = store.NewMemoryStore(store.WithClaimStale(cfg.Claim.Stale.Std()))
	}

	eng := &Engine{
		Registry:  reg,
		Entries:   entries,
		Artifacts: artifacts,
		policy:    cfg.Eviction.Policy(),
	}

	execOpts := []executor.Option{
		executor.WithVersion(cfg.CodecVersion),
		executor.WithTag(cfg.Tag),
		executor.WithTTL(cfg.Eviction.TTL.Std()),
		executor.WithClaimTimeout(cfg.Claim.Timeout.Std()),
	}
	if !cfg.UseCache {
		execOpts = append(execOpts, executor.WithoutCache())
	}

	obsCfg := cfg.Observe
	if obsCfg.TracingEnabled || obsCfg.MetricsEnabled || obsCfg.LoggingEnabled {
		obs, err := observe.NewObserver(ctx, obsCfg.ToObserve())
		if err != nil {
			eng.Close(ctx)
			return nil, err
		}
		eng.observer = obs
		mw, err := observe.MiddlewareFromObserver(obs)
		if err != nil {
			eng.Close(ctx)
			return nil, err
		}
		execOpts = append(execOpts, executor.WithMiddleware(mw))
	}
	execOpts = append(execOpts, opts...)

	exec, err := executor.New(reg, entries, artifacts, execOpts...)
	if err != nil {
		eng.Close(ctx)
		return nil, err
	}
	eng.Executor = exec

	agg := health.NewAggregator()
	agg.Register("entry-store", health.NewEntryStoreChecker(entries))
	agg.Register("artifact-store", health.NewArtifactStoreChecker(artifacts))
	agg.Register("memory", health.NewMemoryChecker(health.MemoryCheckerConfig{}))
	eng.Health = agg

	return eng, nil
}

// Cleanup applies the configured eviction bounds to the entry store
// and deletes artifacts no surviving entry references. It returns the
// number of evicted entries.
func (e *Engine) Cleanup(ctx context.Context) (int, error) {
	return e.Executor.Cleanup(ctx, e.policy)
}

// Close releases backend connections and flushes telemetry.
func (e *Engine) Close(ctx context.Context) error {
	var firstErr error
	if e.Entries != nil {
		if err := e.Entries.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("config: close entry store: %w", err)
		}
	}
	if c, ok := e.Artifacts.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("config: close artifact store: %w", err)
		}
	}
	if e.observer != nil {
		if err := e.observer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("config: shutdown observer: %w", err)
		}
	}
	return firstErr
}
