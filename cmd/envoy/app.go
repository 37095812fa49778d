package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/envoy/internal/config"
	"github.com/MikeSquared-Agency/envoy/internal/dialog"
	"github.com/MikeSquared-Agency/envoy/internal/flow"
	"github.com/MikeSquared-Agency/envoy/internal/hermes"
	"github.com/MikeSquared-Agency/envoy/internal/nlu"
	"github.com/MikeSquared-Agency/envoy/internal/ollama"
	"github.com/MikeSquared-Agency/envoy/internal/outreach"
	"github.com/MikeSquared-Agency/envoy/internal/platform"
	"github.com/MikeSquared-Agency/envoy/internal/scraper"
	"github.com/MikeSquared-Agency/envoy/internal/state"
	"github.com/MikeSquared-Agency/envoy/internal/store"
	"github.com/MikeSquared-Agency/envoy/internal/tools"
)

// app holds the wired components shared by every command. Optional
// backends are nil when unconfigured.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	llm     *ollama.Client
	flows   *flow.Source
	states  state.Store
	locker  state.Locker
	db      *store.Store
	bus     *hermes.Client
	tools   *tools.Executor
	engine  *dialog.Engine
	gateway *platform.Gateway

	closers []func()
}

type appOptions struct {
	// requireBus fails startup when NATS is unreachable instead of running
	// without the gateway and event bus.
	requireBus bool
}

func newApp(ctx context.Context, cfg config.Config, opts appOptions) (*app, error) {
	logger := slog.Default()
	a := &app{cfg: cfg, logger: logger}

	src, err := flow.NewSource(cfg.FlowsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load flows: %w", err)
	}
	a.flows = src
	logger.Info("dialog flows loaded", "path", cfg.FlowsPath, "agent", src.Current().Agent().Name)

	a.llm = ollama.NewClient(cfg.OllamaURL, cfg.OllamaModel)

	if cfg.RedisURL != "" {
		rs, err := state.NewRedisStore(ctx, cfg.RedisURL, cfg.StateTTL, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.states, a.locker = rs, rs
		a.closers = append(a.closers, func() { rs.Close() })
		logger.Info("redis state store connected")
	} else {
		mem := state.NewMemoryStore()
		a.states, a.locker = mem, mem
	}

	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.db = db
		logger.Info("database connected")
	} else {
		logger.Warn("DATABASE_URL not set, leads are only logged")
	}

	bus, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
	switch {
	case err == nil:
		a.bus = bus
		a.closers = append(a.closers, bus.Close)
		a.gateway = platform.NewGateway(bus, logger)
		if bus.Connected() {
			logger.Info("NATS connected", "url", cfg.NatsURL)
		} else {
			logger.Warn("NATS not reachable yet, retrying in background", "url", cfg.NatsURL)
		}
	case opts.requireBus:
		a.Close()
		return nil, fmt.Errorf("connect to NATS: %w", err)
	default:
		logger.Warn("NATS unavailable, running without gateway", "error", err)
	}

	var toolOpts []tools.Option
	if a.db != nil {
		toolOpts = append(toolOpts, tools.WithLeadWriter(a.db))
	}
	var engineOpts []dialog.Option
	if a.bus != nil {
		toolOpts = append(toolOpts, tools.WithPublisher(a.bus))
		engineOpts = append(engineOpts, dialog.WithPublisher(a.bus))
	}
	a.tools = tools.NewExecutor(a.flows, logger, toolOpts...)

	classifier := nlu.NewClassifier(a.llm, logger,
		nlu.WithTimeout(cfg.ClassifyTimeout),
		nlu.WithCacheSize(cfg.ClassifyCache),
	)
	a.engine = dialog.New(a.flows, classifier, a.states, a.locker, a.tools, logger, engineOpts...)

	return a, nil
}

var errNoGateway = errors.New("platform gateway unavailable: NATS is not connected")

func (a *app) scraper() (*scraper.Scraper, error) {
	if a.gateway == nil {
		return nil, errNoGateway
	}
	opts := []scraper.Option{scraper.WithDelay(a.cfg.ScrapeDelay)}
	if a.db != nil {
		opts = append(opts, scraper.WithSink(a.db))
	}
	return scraper.New(a.gateway, a.logger, opts...), nil
}

func (a *app) sender() (*outreach.Sender, error) {
	if a.gateway == nil {
		return nil, errNoGateway
	}
	campaign, err := outreach.LoadCampaign(a.cfg.CampaignStatePath)
	if err != nil {
		return nil, err
	}
	gen := outreach.NewGenerator(a.llm, a.logger, outreach.WithGenerateTimeout(a.cfg.GenerateTimeout))
	pacing := outreach.DefaultPacing()
	pacing.MaxPerDay = a.cfg.MaxMessagesPerDay
	pacing.MinDelay = a.cfg.MinDelay
	pacing.MaxDelay = a.cfg.MaxDelay
	return outreach.NewSender(a.gateway, gen, campaign, pacing, a.logger), nil
}

// Close releases backends in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
