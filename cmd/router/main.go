package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xaenox/support-router/internal/analyzer"
	"github.com/xaenox/support-router/internal/bot"
	"github.com/xaenox/support-router/internal/dispatch"
	"github.com/xaenox/support-router/internal/events"
	"github.com/xaenox/support-router/internal/metrics"
	"github.com/xaenox/support-router/internal/monitor"
	"github.com/xaenox/support-router/internal/responder"
	"github.com/xaenox/support-router/internal/routing"
	"github.com/xaenox/support-router/internal/storage"
	"github.com/xaenox/support-router/pkg/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	// Initialize logger
	logger, err := newLogger(cfg.Log)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("Invalid log config", zap.Error(err))
	}
	defer logger.Sync()

	policy, err := cfg.RoutingPolicy()
	if err != nil {
		logger.Fatal("Invalid routing config", zap.Error(err))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.DBName,
			SSLMode:     cfg.Database.SSLMode,
			UseInMemory: cfg.Database.UseInMemory,
		}
		store, err = storage.NewPostgresStorage(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, agent := range cfg.SeedAgents() {
		if err := store.UpsertAgent(ctx, agent); err != nil {
			logger.Fatal("Failed to seed agent", zap.Error(err), zap.String("agent_id", agent.ID))
		}
	}

	m := metrics.New(nil)

	// Initialize analyzer and reply generator
	var (
		analysis  routing.AnalysisProvider
		generator responder.Generator
	)
	if cfg.Analyzer.Provider == "openai" && cfg.OpenAI.APIKey != "" {
		gpt := analyzer.NewGPTAnalyzer(analyzer.GPTConfig{
			APIKey:       cfg.OpenAI.APIKey,
			BaseURL:      cfg.OpenAI.BaseURL,
			Model:        cfg.OpenAI.Model,
			MaxTokens:    cfg.OpenAI.MaxTokens,
			Temperature:  cfg.OpenAI.Temperature,
			MaxKeyPoints: cfg.Analyzer.MaxKeyPoints,
		}, logger)
		analysis, generator = gpt, gpt
	} else {
		if cfg.Analyzer.Provider == "openai" {
			logger.Warn("OPENAI_API_KEY is not set, falling back to keyword analyzer")
		}
		analysis = analyzer.NewKeywordAnalyzer(cfg.Analyzer.MaxKeyPoints)
	}

	deps := routing.Deps{
		Analyzer:    analysis,
		Agents:      storage.NewCachedAgentPool(store, cfg.Routing.SnapshotCacheSize, cfg.Routing.SnapshotTTL),
		Assignments: store,
		Queue:       store,
		Responder:   responder.NewHandler(generator, policy.Timeouts.Generation, logger),
		Metrics:     m,
	}

	var sink monitor.AlertSink
	if cfg.Kafka.Enabled {
		producer := events.NewProducer(events.Config{
			Brokers:          cfg.Kafka.Brokers,
			AlertsTopic:      cfg.Kafka.AlertsTopic,
			AssignmentsTopic: cfg.Kafka.AssignmentsTopic,
			WriteTimeout:     cfg.Kafka.WriteTimeout,
		}, logger)
		defer producer.Close()
		deps.Publisher = producer
		sink = producer
		logger.Info("Publishing events to Kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	engine, err := routing.NewEngine(policy, deps, logger)
	if err != nil {
		logger.Fatal("Failed to create routing engine", zap.Error(err))
	}

	// The bot reports re-route outcomes to customers; it is created below.
	var b *bot.Bot
	dispatcher := dispatch.NewDispatcher(engine, func(ctx context.Context, req routing.RouteRequest, out *routing.Outcome, err error) {
		b.HandleRerouted(ctx, req, out, err)
	}, cfg.DispatchConfig(), logger)
	engine.SetRequeue(dispatcher)

	mon, err := monitor.NewMonitor(cfg.MonitorConfig(), sink, dispatcher, m, logger)
	if err != nil {
		logger.Fatal("Invalid monitor config", zap.Error(err))
	}

	// Initialize bot
	b, err = bot.New(cfg.Telegram.Token, bot.Deps{
		Router:      engine,
		Assignments: store,
		Agents:      store,
		Monitor:     mon,
		Metrics:     m,
		TenantID:    cfg.Routing.DefaultTenant,
		Workers:     cfg.Telegram.Workers,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	if err := mon.Start(); err != nil {
		logger.Fatal("Failed to start monitor", zap.Error(err))
	}
	defer mon.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return b.Start(gctx) })

	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("Serving metrics", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Router stopped with error", zap.Error(err))
		return
	}
	logger.Info("Router stopped")
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
