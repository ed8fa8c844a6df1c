package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/netrunner/regfeed/internal/config"
	"github.com/netrunner/regfeed/internal/engine"
	"github.com/netrunner/regfeed/internal/feed"
	"github.com/netrunner/regfeed/internal/ir"
	"github.com/netrunner/regfeed/internal/store"
	redisstore "github.com/netrunner/regfeed/internal/store/redis"
	"github.com/netrunner/regfeed/internal/tracing"
)

// runtime is everything a command needs to drive an engine: the loaded
// config, the registry, the opened feeds and the tracer provider.
type runtime struct {
	cfg      *config.Config
	registry store.Registry
	feeds    []*feed.FileFeed
	tracing  *tracing.Provider

	closers []func() error
}

// loadConfig loads the config file and applies the global flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}

	overridden := false
	if opts.DB != "" {
		cfg.DB = opts.DB
		overridden = true
	}
	if len(opts.Feeds) > 0 || opts.Writer != "" {
		feeds := make([]config.FeedConfig, 0, len(opts.Feeds)+1)
		if opts.Writer != "" {
			feeds = append(feeds, config.FeedConfig{Path: opts.Writer, Writable: true})
		}
		for _, path := range opts.Feeds {
			feeds = append(feeds, config.FeedConfig{Path: path})
		}
		cfg.Feeds = feeds
		overridden = true
	}
	if overridden {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openRuntime opens the registry, the feeds and the tracer provider
// described by the config. withFeeds=false skips the feeds, for commands
// that only read the registry.
func openRuntime(ctx context.Context, cfg *config.Config, withFeeds bool) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	reg, err := openRegistry(ctx, cfg, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.registry = reg

	if withFeeds {
		for _, fc := range cfg.Feeds {
			f, err := feed.OpenFile(fc.Path, feed.FileOptions{
				Writable: fc.Writable,
				ID:       ir.FeedID(fc.ID),
			})
			if err != nil {
				rt.Close()
				return nil, err
			}
			rt.feeds = append(rt.feeds, f)
			rt.closers = append(rt.closers, f.Close)
		}
	}

	provider, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.tracing = provider
	rt.closers = append(rt.closers, func() error {
		return provider.Shutdown(context.Background())
	})

	return rt, nil
}

func openRegistry(ctx context.Context, cfg *config.Config, rt *runtime) (store.Registry, error) {
	var reg store.Registry
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		rt.closers = append(rt.closers, client.Close)
		reg = redisstore.New(client, redisstore.WithPrefix(cfg.Redis.Prefix))
		slog.Debug("registry opened", "backend", "redis", "addr", cfg.Redis.Addr)
	} else {
		s, err := store.Open(cfg.DB)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, s.Close)
		reg = s
		slog.Debug("registry opened", "backend", "sqlite", "path", cfg.DB)
	}

	if cfg.Cache.Enabled {
		reg = store.NewCached(reg, cfg.Cache.TTL)
	}
	return reg, nil
}

// Feeds returns the opened feeds as engine feeds.
func (rt *runtime) Feeds() []feed.Feed {
	out := make([]feed.Feed, len(rt.feeds))
	for i, f := range rt.feeds {
		out[i] = f
	}
	return out
}

// feed returns the opened feed with the given ID.
func (rt *runtime) feed(id ir.FeedID) (feed.Feed, bool) {
	for _, f := range rt.feeds {
		if f.ID() == id {
			return f, true
		}
	}
	return nil, false
}

// EngineOptions maps the config onto engine options. live overrides the
// configured value; only serve runs live.
func (rt *runtime) EngineOptions(live bool) []engine.EngineOption {
	return []engine.EngineOption{
		engine.WithLive(live),
		engine.WithThrows(rt.cfg.Throws),
		engine.WithPrune(rt.cfg.Prune),
		engine.WithTracer(rt.tracing.Tracer()),
	}
}

// Close releases everything in reverse order of opening.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// catchUp ingests every feed once without following it and returns the
// engine with its probes done. The caller closes the engine.
func (rt *runtime) catchUp(ctx context.Context) (*engine.Engine, error) {
	e := engine.New(rt.Feeds(), rt.registry, rt.EngineOptions(false)...)
	if err := e.Ready(ctx); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.Wait(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// settle re-reads the feed that authored entry so the entry reaches the
// registry through the same path as any other feed entry.
func (rt *runtime) settle(ctx context.Context, clock *engine.Clock, entry ir.Entry) error {
	f, ok := rt.feed(entry.Author)
	if !ok {
		return fmt.Errorf("settle %s: feed %s not open", entry.Name, entry.Author)
	}
	opts := append(rt.EngineOptions(false), engine.WithClock(clock))
	e := engine.New([]feed.Feed{f}, rt.registry, opts...)
	defer e.Close()
	return e.Wait(ctx)
}

// failure maps engine and store errors onto CLI error codes.
func failure(out *OutputFormatter, message string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return out.Fail(ExitFailure, CodeNotFound, message, err)
	case engine.IsNoWritableFeed(err):
		return out.Fail(ExitFailure, CodeNoWriter, message, err)
	case engine.IsAppendError(err):
		return out.Fail(ExitFailure, CodeAppend, message, err)
	case engine.IsProbeError(err):
		return out.Fail(ExitFailure, CodeProbe, message, err)
	case errors.Is(err, ir.ErrEmptyName):
		return out.Fail(ExitCommandError, CodeBadArgs, message, err)
	default:
		return out.Fail(ExitFailure, CodeInternal, message, err)
	}
}
