package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridianops/meridian-failover/internal/anomaly"
	"github.com/meridianops/meridian-failover/internal/api"
	"github.com/meridianops/meridian-failover/internal/config"
	"github.com/meridianops/meridian-failover/internal/engine"
	"github.com/meridianops/meridian-failover/internal/history"
	"github.com/meridianops/meridian-failover/internal/journal"
	"github.com/meridianops/meridian-failover/internal/metrics"
	"github.com/meridianops/meridian-failover/internal/models"
	"github.com/meridianops/meridian-failover/internal/providers"
	"github.com/meridianops/meridian-failover/internal/remediation"
	"github.com/meridianops/meridian-failover/internal/services"
	"github.com/meridianops/meridian-failover/internal/store"
	"github.com/meridianops/meridian-failover/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting meridian-failover", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}
	measurements := metrics.NewPromSink(prometheus.DefaultRegisterer, logger)

	var journalStore journal.Store = journal.NoopStore{}
	if cfg.Journal.Enabled {
		switch cfg.Journal.Backend {
		case "valkey":
			valkeyStore, err := journal.NewValkeyStore(journal.ValkeyConfig{
				Addr:         cfg.Journal.Addr,
				Username:     cfg.Journal.Username,
				Password:     cfg.Journal.Password,
				DB:           cfg.Journal.DB,
				DialTimeout:  cfg.Journal.DialTimeout,
				ReadTimeout:  cfg.Journal.ReadTimeout,
				WriteTimeout: cfg.Journal.WriteTimeout,
				MaxRetries:   cfg.Journal.MaxRetries,
				TLS:          cfg.Journal.TLS,
			})
			if err != nil {
				logger.Warn("valkey journal unavailable, falling back to memory", slog.Any("error", err))
				journalStore = journal.NewMemoryStore()
			} else {
				journalStore = valkeyStore
			}
		default:
			journalStore = journal.NewMemoryStore()
		}
	}
	defer journalStore.Close()

	prober := providers.NewHTTPProber(
		cfg.Providers.Probe.URLTemplate,
		cfg.Providers.Probe.Timeout,
		cfg.Providers.Probe.BreakerFailures,
		cfg.Providers.Probe.BreakerCooldown,
		utils.Component(logger, "prober"),
	)
	controlPlane := providers.NewControlPlaneClient(
		cfg.Providers.ControlPlane.BaseURL,
		cfg.Providers.ControlPlane.DNSPath,
		cfg.Providers.ControlPlane.CDNPath,
		cfg.Providers.ControlPlane.ScalingPath,
		cfg.Providers.ControlPlane.Timeout,
	)
	alerts := providers.NewAlertClient(cfg.Providers.Alerts.WebhookURL, cfg.Providers.Alerts.Timeout,
		utils.Component(logger, "alerts"))

	executor := remediation.NewExecutor(controlPlane, controlPlane, controlPlane, alerts, journalStore,
		remediation.Config{
			MaxRetries:     cfg.Executor.MaxRetries,
			InitialBackoff: cfg.Executor.InitialBackoff,
			MaxBackoff:     cfg.Executor.MaxBackoff,
			ClaimTTL:       cfg.Journal.ClaimTTL,
			RecordTTL:      cfg.Journal.RecordTTL,
		}, utils.Component(logger, "remediation"))

	engineLogger := utils.Component(logger, "engine")
	advisor, err := engine.NewAdvisor(cfg.Rules.Path, engineLogger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	serviceNames := make([]string, 0, len(cfg.Services))
	weights := make(map[string]float64, len(cfg.Services))
	for _, svc := range cfg.Services {
		serviceNames = append(serviceNames, svc.Name)
		weights[svc.Name] = svc.Weight
	}
	edges := make([]models.DependencyEdge, 0, len(cfg.Dependencies))
	for _, dep := range cfg.Dependencies {
		edges = append(edges, models.DependencyEdge{
			Upstream:   dep.Upstream,
			Downstream: dep.Downstream,
			Weight:     dep.Weight,
		})
	}

	thresholds := engine.Thresholds{
		Health:              cfg.Engine.HealthThreshold,
		Warning:             cfg.Engine.WarningThreshold,
		ConsecutiveFailures: cfg.Engine.ConsecutiveFailuresThreshold,
		CooldownCycles:      cfg.Engine.CooldownCycles,
		AutoFailback:        cfg.Engine.AutoFailback,
	}
	machines := make([]*engine.StateMachine, 0, len(cfg.Groups))
	for _, group := range cfg.Groups {
		machines = append(machines, engine.NewStateMachine(group.TrafficGroup(), thresholds, engineLogger))
	}

	transitionLog := history.NewLog(cfg.History.MaxEvents)

	// The hub feeds from the service facade, which is only constructed once
	// the runner exists; the indirection closes that loop.
	var failoverService *services.FailoverService
	hub := api.NewHub(api.GroupListerFunc(func() ([]models.GroupStatus, error) {
		if failoverService == nil {
			return nil, nil
		}
		return failoverService.ListGroups()
	}), utils.Component(logger, "stream"))

	runner := engine.NewRunner(
		engine.RunnerConfig{
			PollInterval: cfg.Engine.PollInterval,
			ProbeTimeout: cfg.Engine.ProbeTimeout,
			Workers:      cfg.Engine.Workers,
			Services:     serviceNames,
			Regions:      cfg.Regions,
		},
		engine.Evaluators{
			Prober:     prober,
			Samples:    store.New(cfg.Engine.WindowSize),
			Scorer:     anomaly.NewRobustScorer(cfg.Engine.MinSamples),
			Aggregator: engine.NewAggregator(weights, cfg.Engine.HealthThreshold, cfg.Engine.AnomalyPenaltyWeight, cfg.Engine.ResponseTimeThreshold, engineLogger),
			Cascade:    engine.NewCascadeAnalyzer(edges, cfg.Engine.CascadeDepth, cfg.Engine.HealthThreshold, engineLogger),
			Machines:   machines,
			Advisor:    advisor,
		},
		engine.Sinks{
			Transitions:  transitionLog,
			Applier:      executor,
			Alerts:       alerts,
			Events:       hub,
			Measurements: measurements,
		},
		engineLogger,
	)

	failoverService = services.NewFailoverService(logger, runner, executor, transitionLog)

	router := api.NewRouter(api.RouterConfig{
		Service: failoverService,
		Hub:     hub,
		Logger:  logger,
	})
	server, err := api.NewServer(cfg.Server, router)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go hub.Run(ctx)

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := runner.Run(ctx); err != nil {
			logger.Error("evaluation loop exited", slog.Any("error", err))
			stop()
		}
	}()

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	<-engineDone

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("meridian-failover stopped")
}
