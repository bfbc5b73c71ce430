// Package orchestrator builds every component from the configuration and
// runs the long-lived ones together.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/spachava753/tunectl/internal/cache"
	"github.com/spachava753/tunectl/internal/config"
	"github.com/spachava753/tunectl/internal/engine"
	"github.com/spachava753/tunectl/internal/events"
	"github.com/spachava753/tunectl/internal/history"
	"github.com/spachava753/tunectl/internal/live"
	"github.com/spachava753/tunectl/internal/metrics"
	"github.com/spachava753/tunectl/internal/models"
	"github.com/spachava753/tunectl/internal/poller"
	"github.com/spachava753/tunectl/internal/server"
	"github.com/spachava753/tunectl/internal/tuning"
	"github.com/spachava753/tunectl/internal/validator"
)

// App holds the wired components.
type App struct {
	Config    models.Config
	Engine    engine.Service
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Publisher events.Publisher
	Validator *validator.Validator
	History   *history.Merger
	Live      *live.Manager
	Cache     *cache.Tracker
	Tuning    *tuning.Controller
	Server    *server.Server
}

// New wires an App talking to the engine named in cfg.
func New(cfg models.Config) *App {
	return NewWithEngine(cfg, engine.FromConfig(cfg.Engine), events.New(cfg.Events))
}

// NewWithEngine wires an App around svc and pub.
func NewWithEngine(cfg models.Config, svc engine.Service, pub events.Publisher) *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	group := poller.NewGroup()
	v := validator.New(cfg.Validation)
	h := history.NewMerger(svc, cfg.History, m)
	lm := live.NewManager(svc, v, m, pub)
	tracker := cache.NewTracker(svc, cfg.Cache, group, m, pub)
	ctrl := tuning.NewController(svc, cfg.Tuning, v, h, group, m, pub)

	app := &App{
		Config:    cfg,
		Engine:    svc,
		Registry:  reg,
		Metrics:   m,
		Publisher: pub,
		Validator: v,
		History:   h,
		Live:      lm,
		Cache:     tracker,
		Tuning:    ctrl,
	}
	app.Server = server.New(server.Deps{
		Tuning:     ctrl,
		Cache:      tracker,
		History:    h,
		Live:       lm,
		Backtests:  svc,
		Classifier: v,
		Gatherer:   reg,
	})
	return app
}

// Run serves the API and tracks the cache until ctx is done or one of them
// fails. Polling is cancelled on return; a running engine job keeps running.
func (a *App) Run(ctx context.Context) error {
	name := "tunectl"
	if a.Config.Name != nil {
		name = *a.Config.Name
	}
	slog.Info("starting", "name", name, "engine", a.Config.Engine.BaseURL, "addr", a.Config.Server.Addr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Cache.Run(ctx)
	})
	g.Go(func() error {
		if err := a.Server.Run(ctx, a.Config.Server.Addr); err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})

	err := g.Wait()
	a.Tuning.Close()
	if cerr := a.Publisher.Close(); cerr != nil {
		slog.Warn("closing event publisher", "error", cerr)
	}
	slog.Info("stopped", "name", name)
	return err
}

// LoadConfig reads the job config at path, or the defaults when path is
// empty, and applies environment overrides.
func LoadConfig(path string, envFiles ...string) (models.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		cfg, err = config.LoadConfig(path)
		if err != nil {
			return cfg, fmt.Errorf("loading config: %w", err)
		}
	}
	if err := config.ApplyEnv(&cfg, envFiles...); err != nil {
		return cfg, fmt.Errorf("applying environment: %w", err)
	}
	return cfg, nil
}
