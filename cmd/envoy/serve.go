package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/envoy/internal/api"
	"github.com/MikeSquared-Agency/envoy/internal/hermes"
	"github.com/MikeSquared-Agency/envoy/internal/platform"
	"github.com/MikeSquared-Agency/envoy/internal/processor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the inbound auto-responder",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{requireBus: true})
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("envoy starting", "port", cfg.Port, "model", cfg.OllamaModel)

	if models, err := a.llm.Ping(ctx); err != nil {
		a.logger.Warn("ollama not responding, classification falls back to keywords", "error", err)
	} else {
		a.logger.Info("ollama ready", "model", cfg.OllamaModel, "available", len(models))
	}

	proc := processor.New(a.engine, a.gateway, a.logger)
	if err := a.bus.Subscribe(platform.SubjectInbound, proc.HandleInbound); err != nil {
		return fmt.Errorf("subscribe to inbound messages: %w", err)
	}

	deps := api.Deps{
		Catalog:     a.flows,
		Dialogs:     a.engine,
		Tools:       a.tools,
		Model:       cfg.OllamaModel,
		MembersFile: cfg.MembersFile,
	}
	if sc, err := a.scraper(); err == nil {
		deps.Scraper = sc
	}
	if a.db != nil {
		deps.Leads = a.db
	}
	srv := api.NewServer(cfg.Port, cfg.APIToken, deps, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if cfg.WatchFlows {
		g.Go(func() error {
			return a.flows.Watch(gctx)
		})
	}

	if err := a.bus.Publish(hermes.SubjectRegistered, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
		"agent":     a.flows.Current().Agent().Name,
	}); err != nil {
		a.logger.Warn("failed to publish registration", "error", err)
	}

	a.logger.Info("envoy ready", "port", cfg.Port)

	err = g.Wait()
	a.logger.Info("envoy stopped")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
