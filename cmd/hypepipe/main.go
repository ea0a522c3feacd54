package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eventedge/hypepipe/internal/audit"
	"github.com/eventedge/hypepipe/internal/caps"
	"github.com/eventedge/hypepipe/internal/engine"
	"github.com/eventedge/hypepipe/internal/infra"
	"github.com/eventedge/hypepipe/internal/infra/auth"
	"github.com/eventedge/hypepipe/internal/policy"
	"github.com/eventedge/hypepipe/internal/repository/postgres"
)

// staticSwitch — замена Redis-переключателя, когда Redis не настроен
// или кэш выключен наглухо через ENV.
type staticSwitch bool

func (s staticSwitch) Enabled() bool { return bool(s) }

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Postgres (аудит + снапшоты)
	if cfg.Database.URL == "" {
		logger.Fatal("database.url (DB_URL) is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Fatal("invalid database url", zap.Error(err))
	}
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns

	pool, err := pgxpool.NewWithConfig(appCtx, poolCfg)
	if err != nil {
		logger.Fatal("failed to create pg pool", zap.Error(err))
	}
	defer pool.Close()

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := pool.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	auditRepo := postgres.NewAuditRepo(pool)
	snapshotRepo := postgres.NewSnapshotRepo(pool)

	// 3. Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics exporter started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics exporter failed", zap.Error(err))
		}
	}()

	// 4. Конвейер аудита (пачки в Postgres)
	recorder := audit.NewRecorder(auditRepo, logger, audit.RecorderOptions{
		BufferSize:    cfg.Gateway.AuditBufferSize,
		FlushInterval: cfg.Gateway.AuditFlushInterval,
		FillGauge:     metrics.AuditBufferFill,
	})
	recorder.Start()

	// 5. Переключатель кэша: ENV перекрывает всё, Redis дает рантайм
	var cacheSwitch engine.CacheSwitch = staticSwitch(false)
	switch {
	case cfg.Gateway.CacheDisabled:
		logger.Warn("result cache disabled via HYPEPIPE_CACHE_DISABLED")
		cacheSwitch = staticSwitch(true)
	case cfg.Redis.Addr != "":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		bypass := engine.NewBypassManager(rdb, logger)
		if err := bypass.Init(appCtx); err != nil {
			logger.Warn("failed to init cache bypass state, assuming cache on", zap.Error(err))
		}
		go bypass.StartListener(appCtx)
		cacheSwitch = bypass
	}

	// 6. Чтение снапшотов через защитный сэндвич
	reader := engine.NewReliableReader(snapshotRepo, engine.ReliableReaderOptions{
		CBMaxRequests: cfg.Gateway.CBMaxRequests,
		CBInterval:    cfg.Gateway.CBInterval,
		CBTimeout:     cfg.Gateway.CBTimeout,
		RPS:           cfg.Gateway.SnapshotRPS,
		Burst:         cfg.Gateway.SnapshotBurst,
		BreakerGauge:  metrics.SnapshotBreakerState,
	})

	// 7. Реестр способностей
	registry := engine.NewRegistry()
	registry.Register("core.asset.snapshot", engine.Capability{
		Handler: caps.AssetSnapshot(reader, time.Now),
		TTL:     30 * time.Second,
	})
	registry.Register("macro.regime", engine.Capability{
		Handler: caps.MacroRegime(reader, time.Now),
		TTL:     60 * time.Second,
	})
	registry.Register("macro.pillars", engine.Capability{
		Handler: caps.MacroPillars(reader, time.Now),
		TTL:     60 * time.Second,
	})

	// 8. Сборка ядра
	core := engine.NewCore(engine.CoreDeps{
		Verifier: auth.NewVerifier(cfg.Auth.Secret),
		Scopes:   policy.NewScopeEnforcer(policy.DefaultScopeTable()),
		Registry: registry,
		Cache:    engine.NewResultCache(nil),
		Bypass:   cacheSwitch,
		Auditor:  recorder,
		Metrics:  metrics,
		Logger:   logger,
	})

	// 9. HTTP Server
	r := chi.NewRouter()
	r.Route("/api/v1/hypepipe", func(r chi.Router) {
		r.Get("/health", core.HandleHealth)
		// Trace-ID присваивается на каждую попытку вызова
		r.With(engine.TracingMiddleware).Post("/cap", core.HandleCap)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("hypepipe gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("hypepipe gateway stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Останавливаем фоновые слушатели и дописываем хвост аудита
	cancel()
	recorder.Stop()
	logger.Info("hypepipe gateway exited properly")
}
