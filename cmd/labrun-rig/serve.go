package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Labrun/internal/api"
	"github.com/shaiso/Labrun/internal/capture"
	"github.com/shaiso/Labrun/internal/config"
	"github.com/shaiso/Labrun/internal/engine"
	"github.com/shaiso/Labrun/internal/heater"
	"github.com/shaiso/Labrun/internal/mq"
	"github.com/shaiso/Labrun/internal/orchestrator"
	"github.com/shaiso/Labrun/internal/repo"
	"github.com/shaiso/Labrun/internal/steps"
	"github.com/shaiso/Labrun/internal/telemetry"
)

// shutdownGrace — сколько ждать горутины тестов при завершении.
// Покрывает таймаут остановки фона и публикацию stopped.
const shutdownGrace = 30 * time.Second

// serve запускает демон и блокируется до SIGINT/SIGTERM.
func serve(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Инициализируем structured logging
	logger, logCloser := telemetry.SetupLogger()
	defer logCloser.Close()
	logger.Info("starting labrun-rig", "version", version)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	plan, err := loadPlan(cfg.Workflow.Ref)
	if err != nil {
		return err
	}
	logger.Info("workflow loaded",
		"workflow", plan.Name,
		"stages", len(plan.Stages()),
		"max_cycles", plan.MaxCycles,
		"background", plan.Background,
	)

	// RabbitMQ
	conn, err := mq.NewConnection(cfg.AMQP.URL, cfg.AMQP.Name, logger)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer conn.Close()
	logger.Info("RabbitMQ connected")

	topology := cfg.AMQP.Topology
	if err := mq.SetupTopology(ctx, conn, topology); err != nil {
		return fmt.Errorf("setup topology: %w", err)
	}
	conn.OnReconnect(topology.Declare)
	logger.Info("topology declared", "topology", topology.Info())

	publisher := mq.NewPublisher(conn, topology, logger)
	sink := orchestrator.NewMultiSink().Add("amqp", publisher)

	// Журнал прогонов (опционально)
	var journal api.Journal
	if cfg.Database.Enabled() {
		j, closeDB, err := openJournal(ctx, cfg.Database.URL, logger)
		if err != nil {
			logger.Warn("run journal not available, continuing without it", "error", err)
		} else {
			defer closeDB()
			sink.Add("journal", j)
			journal = j
		}
	}

	// Снимки
	var capturer orchestrator.Capturer
	if cfg.Capture.Enabled {
		capCfg := cfg.Capture.Settings()
		capCfg.Logger = logger
		c, err := capture.New(capCfg, publisher)
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		capturer = c
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Plan:       plan,
		Steps:      steps.DefaultRegistry(cfg.Scripts.Dir, cfg.Scripts.Interpreter, logger),
		Background: backgroundCatalog(cfg.Heater, logger),
		Supervisor: heater.NewSupervisor(heater.SupervisorConfig{
			StopTimeout: cfg.Heater.StopTimeout,
			Logger:      logger,
		}),
		Sink:             sink,
		Capturer:         capturer,
		StopTimeout:      cfg.Heater.StopTimeout,
		ErrorStopTimeout: cfg.Heater.ErrorStopTimeout,
		Vars:             cfg.Workflow.Vars,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	commands := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
		Queue:    topology.CommandQueue,
		Handler:  orch.CommandHandler(),
		Prefetch: cfg.AMQP.Prefetch,
	})
	confirmations := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
		Queue:    topology.ConfirmQueue,
		Handler:  orch.ConfirmationHandler(),
		Prefetch: cfg.AMQP.Prefetch,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           newMux(orch, journal, conn, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(commands.Start(gctx)) })
	g.Go(func() error { return ignoreCanceled(confirmations.Start(gctx)) })

	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if runErr != nil {
		logger.Error("rig component failed", "error", runErr)
	}
	logger.Info("shutting down", "active_tests", len(orch.ActiveTests()))

	// Команды больше не принимаются: снимаем активные тесты.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown", "error", err)
	}

	logger.Info("labrun-rig stopped")
	return runErr
}

// loadPlan загружает workflow и строит план.
func loadPlan(ref string) (*engine.Plan, error) {
	def, err := engine.Resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("load workflow %q: %w", ref, err)
	}
	plan, err := engine.NewPlan(def)
	if err != nil {
		return nil, fmt.Errorf("build plan %q: %w", ref, err)
	}
	return plan, nil
}

// openJournal подключает журнал и закрывает прогоны прошлого процесса.
func openJournal(ctx context.Context, dsn string, logger *slog.Logger) (*repo.EventJournal, func(), error) {
	pool, err := repo.NewPool(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := repo.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("database connected")

	journal := repo.NewEventJournal(pool)
	orphaned, err := journal.MarkOrphaned(ctx)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if orphaned > 0 {
		logger.Warn("unfinished runs from previous process marked as error", "count", orphaned)
	}
	return journal, pool.Close, nil
}

// backgroundCatalog собирает фоновые действия из конфигурации.
func backgroundCatalog(cfg config.HeaterConfig, logger *slog.Logger) *heater.Catalog {
	settings := cfg.HeaterSettings()
	settings.Logger = logger

	process := cfg.Process()
	if process != nil {
		process.Logger = logger
	}
	return heater.DefaultCatalog(settings, process)
}

// newMux собирает HTTP маршруты: API, /healthz и /metrics.
func newMux(orch *orchestrator.Orchestrator, journal api.Journal, conn *mq.Connection, logger *slog.Logger) *http.ServeMux {
	startTime := time.Now()
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !conn.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "amqp disconnected")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s active=%d", time.Since(startTime).Round(time.Second), len(orch.ActiveTests()))
	})
	mux.Handle("/metrics", promhttp.Handler())

	api.NewHandler(api.Config{
		Tests:   orch,
		Journal: journal,
		Logger:  logger,
	}).RegisterRoutes(mux)

	return mux
}

// ignoreCanceled — штатная остановка consumer не ошибка.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
