package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fundarb/internal/api"
	"fundarb/internal/config"
	"fundarb/internal/evaluator"
	"fundarb/internal/events"
	"fundarb/internal/exchange"
	"fundarb/internal/executor"
	"fundarb/internal/funding"
	"fundarb/internal/keeper"
	"fundarb/internal/losstrack"
	"fundarb/internal/registry"
	"fundarb/internal/repository"
	"fundarb/internal/websocket"
	"fundarb/pkg/ratelimit"
	"fundarb/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.InitLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer logger.Sync()

	// База данных опциональна: без неё keeper работает без журнала
	// исполнений и событий
	var db *sql.DB
	if cfg.Database.Enabled {
		db, err = initDatabase(cfg)
		if err != nil {
			logger.Fatal("database connection failed",
				utils.String("dsn", cfg.Database.DSNWithoutPassword()),
				utils.Err(err),
			)
		}
		defer db.Close()
		logger.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))
	}

	// Площадки: в paper-режиме все заменяются mock-адаптерами
	venues, err := buildVenues(cfg)
	if err != nil {
		logger.Fatal("venue initialization failed", utils.Err(err))
	}

	// Общая инфраструктура
	limiter := ratelimit.NewLimiter(limiterConfig(cfg), logger)
	locks := registry.NewLockManager(logger)
	orders := registry.NewOrderRegistry(logger)
	tracker := losstrack.NewTracker(cfg.Keeper.DataDir, logger)
	recorder := funding.NewRecorder(logger)
	bus := events.NewBus(logger)

	eval := evaluator.New(evaluator.Config{
		MaxWorstCaseBreakEvenDays: cfg.Evaluator.MaxWorstCaseBreakEvenDays,
	}, logger)

	engine := executor.NewEngine(executor.Config{
		MaxPortfolioPctPerSlice: cfg.Execution.MaxPortfolioPctPerSlice,
		MaxUsdPerSlice:          cfg.Execution.MaxUsdPerSlice,
		MinSlices:               cfg.Execution.MinSlices,
		MaxSlices:               cfg.Execution.MaxSlices,
		SliceFillTimeout:        cfg.Execution.SliceFillTimeout,
		FillCheckInterval:       cfg.Execution.FillCheckInterval,
		InterSliceDelay:         cfg.Execution.InterSliceDelay,
		MaxImbalancePercent:     cfg.Execution.MaxImbalancePercent,
		DynamicSlicing:          cfg.Execution.DynamicSlicing,
		FundingBuffer:           cfg.Execution.FundingBuffer,
		ConstrainedVenue:        cfg.Venues.Constrained,
		LockTimeout:             cfg.Locks.SymbolLockTimeout,
	}, locks, orders, limiter, bus, logger)

	// WebSocket hub: доменные события и прогресс исполнения уходят
	// операторскому UI
	hub := websocket.NewHub(cfg.Server.AllowedOrigins, logger)
	go hub.Run()
	hub.Bridge(bus)
	engine.OnSliceProgress(hub.BroadcastExecutionUpdate)

	// Репозитории подписываются на шину только при включенной БД
	var execRepo *repository.ExecutionRepository
	var eventRepo *repository.EventRepository
	if db != nil {
		execRepo = repository.NewExecutionRepository(db)
		eventRepo = repository.NewEventRepository(db)
		eventRepo.Attach(bus)
		repository.NewLedgerRepository(db).Attach(bus)
	}

	portfolio := keeper.NewPortfolio(venues, limiter, logger)

	keeperCfg := keeper.Config{
		Symbols:           cfg.Keeper.Symbols,
		PollInterval:      cfg.Keeper.PollInterval,
		EvaluateInterval:  cfg.Keeper.EvaluateInterval,
		EquityInterval:    cfg.Keeper.EquityInterval,
		ReconcileInterval: cfg.Keeper.ReconcileInterval,
		HistoryDays:       cfg.Keeper.HistoryDays,
		PositionPct:       cfg.Keeper.PositionPct,
		MaxPositionUsd:    cfg.Keeper.MaxPositionUsd,
		TakerFeeRate:      cfg.Keeper.TakerFeeRate,
		SlippageRate:      cfg.Keeper.SlippageRate,
		ExecutionCooldown: cfg.Keeper.ExecutionCooldown,
		GlobalLockTimeout: cfg.Locks.GlobalLockTimeout,
	}

	var sink keeper.ExecutionSink
	if execRepo != nil {
		sink = execRepo
	}

	kpr := keeper.New(keeperCfg, venues, recorder, eval, engine, tracker,
		locks, orders, limiter, bus, portfolio, sink, logger)

	safety := keeper.NewSafetyMonitor(keeperCfg, venues, locks, orders, limiter, bus, logger)
	safety.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go kpr.Run(ctx)
	go broadcastEquity(ctx, portfolio, hub, cfg.Keeper.EquityInterval)

	// HTTP API
	deps := &api.Dependencies{
		Keeper:         kpr,
		Portfolio:      portfolio,
		Tracker:        tracker,
		Orders:         orders,
		Limiter:        limiter,
		Stream:         hub,
		AuthTokenHash:  cfg.Server.AuthTokenHash,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	}
	if execRepo != nil {
		deps.Executions = execRepo
	}
	if eventRepo != nil {
		deps.Events = eventRepo
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.SetupRoutes(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", utils.Err(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	hub.Stop()

	for name, venue := range venues {
		if err := venue.Close(); err != nil {
			logger.Warn("venue close failed", utils.Venue(name), utils.Err(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", utils.Err(err))
	}

	logger.Info("keeper exited")
}

// buildVenues создает адаптеры включенных площадок. В paper-режиме
// реальные коннекторы заменяются mock'ами с теми же именами.
func buildVenues(cfg *config.Config) (map[string]exchange.PerpExchange, error) {
	venues := make(map[string]exchange.PerpExchange, len(cfg.Venues.Names))
	for _, name := range cfg.Venues.Names {
		if cfg.Keeper.PaperMode {
			venues[name] = exchange.NewMock(name)
			continue
		}

		creds := cfg.Venues.Credentials[name]
		venue, err := exchange.New(name, exchange.Credentials{
			APIKey:     creds.APIKey,
			Secret:     creds.Secret,
			Passphrase: creds.Passphrase,
		})
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", name, err)
		}
		venues[name] = venue
	}
	return venues, nil
}

// limiterConfig накладывает overrides из окружения на лимиты
// по умолчанию
func limiterConfig(cfg *config.Config) ratelimit.Config {
	out := ratelimit.DefaultConfig()
	for name, rl := range cfg.Venues.RateLimits {
		out.Overrides[name] = ratelimit.VenueLimits{
			MaxPerSecond: rl.MaxPerSecond,
			MaxPerMinute: rl.MaxPerMinute,
		}
	}
	return out
}

// broadcastEquity периодически отправляет снимок equity в WebSocket
func broadcastEquity(ctx context.Context, portfolio *keeper.Portfolio, hub *websocket.Hub, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hub.BroadcastEquityUpdate(portfolio.Total(), portfolio.Equities())
		}
	}
}

// initDatabase открывает подключение к PostgreSQL и проверяет его
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
