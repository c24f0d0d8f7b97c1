package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"voltguard/internal/alerts"
	"voltguard/internal/analytics"
	"voltguard/internal/api"
	"voltguard/internal/config"
	"voltguard/internal/devices"
	"voltguard/internal/dispatch"
	"voltguard/internal/engine"
	"voltguard/internal/logging"
	"voltguard/internal/market"
	"voltguard/internal/model"
	"voltguard/internal/rules"
	"voltguard/internal/storage"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "voltguard:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	var manager *config.Manager
	if configPath != "" {
		m, err := config.NewManager(config.ResolvePath(configPath))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		manager = m
	} else {
		manager = config.NewStaticManager(config.DefaultConfig())
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting", "version", version, "market_source", cfg.Market.Source)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := store.Init(initCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()
	}

	ruleStore := rules.NewStore(store, logging.Component(logger, "rules"))
	if err := ruleStore.Load(ctx); err != nil {
		return err
	}
	alertStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	logStore := analytics.NewLogStore(cfg.Log.StoreLimit)

	var provider market.Provider
	switch strings.ToLower(cfg.Market.Source) {
	case "kafka":
		feed := market.NewFeed(cfg.Market.Kafka, logging.Component(logger, "market"))
		feed.Start(ctx)
		provider = feed
	default:
		provider = market.NewHTTPProvider(cfg.Market.HTTP, logging.Component(logger, "market"))
	}

	controller := devices.NewClient(cfg.Devices, logging.Component(logger, "devices"))
	eng := engine.NewEngine(cfg, logging.Component(logger, "engine"), alertStore, store)
	dispatcher := dispatch.NewDispatcher(controller, logStore, store, logging.Component(logger, "dispatch"), cfg.Evaluator.DefaultCurtailDuration)

	api.Start(ctx, api.Deps{
		Config:     manager,
		Engine:     eng,
		Rules:      ruleStore,
		Provider:   provider,
		Controller: controller,
		Dispatcher: dispatcher,
		Alerts:     alertStore,
		Logs:       logStore,
		Store:      store,
		Logger:     logging.Component(logger, "api"),
		Version:    version,
	})

	if configPath != "" {
		go manager.Watch(3*time.Second,
			func(next *config.Config) {
				eng.UpdateConfig(next)
				logger.Info("config reloaded")
			},
			func(err error) {
				logger.Warn("config reload failed", "err", err)
			},
			ctx.Done(),
		)
	}

	if cfg.Evaluator.TickerEnabled {
		go runTicker(ctx, manager, provider, controller, ruleStore, eng, store, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// runTicker is the built-in evaluation driver for deployments without
// an external scheduler. Evaluation only: executing a decision stays an
// explicit operator call.
func runTicker(ctx context.Context, manager *config.Manager, provider market.Provider, controller devices.Controller, ruleStore *rules.Store, eng *engine.Engine, store storage.Store, logger *slog.Logger) {
	ticker := time.NewTicker(manager.Get().Evaluator.TickerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			decision := evaluateCycle(ctx, manager, provider, controller, ruleStore, eng, store, logger)
			logger.Info("evaluation cycle",
				"decision", decision.Action,
				"grid_stress_level", decision.GridStressLevel,
				"confidence", decision.ConfidenceScore,
				"reason", decision.Reason,
			)
		case <-ctx.Done():
			return
		}
	}
}

func evaluateCycle(ctx context.Context, manager *config.Manager, provider market.Provider, controller devices.Controller, ruleStore *rules.Store, eng *engine.Engine, store storage.Store, logger *slog.Logger) model.Decision {
	snapshot, err := provider.GetSnapshot(ctx)
	if err != nil {
		logger.Warn("cycle degraded: snapshot unavailable", "err", err)
		return engine.FailSafe("Market data unavailable, holding current state")
	}
	fleet, err := controller.GetDevices(ctx)
	if err != nil {
		logger.Warn("cycle degraded: device status unavailable", "err", err)
		fleet = nil
	}
	decision := eng.Evaluate(snapshot, ruleStore.ListActive(), fleet)
	if manager.Get().Evaluator.PersistDecisions && store != nil {
		if err := store.SaveDecision(ctx, decision); err != nil {
			logger.Warn("decision persist failed", "err", err)
		}
	}
	return decision
}
