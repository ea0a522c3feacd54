package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/eventedge/hypepipe/internal/console/handler"
	"github.com/eventedge/hypepipe/internal/console/server"
	"github.com/eventedge/hypepipe/internal/console/service"
	"github.com/eventedge/hypepipe/internal/infra"
	"github.com/eventedge/hypepipe/internal/infra/auth"
	"github.com/eventedge/hypepipe/internal/repository/postgres"
)

func main() {
	// 1. Инициализация ресурсов
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Database.URL == "" {
		logger.Fatal("database.url (DB_URL) is required")
	}
	pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to create pg pool", zap.Error(err))
	}
	defer pool.Close()

	// Проверяем соединение с таймаутом
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	cancel()

	userRepo := postgres.NewUserRepo(pool)
	auditRepo := postgres.NewAuditRepo(pool)

	// 2. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(userRepo, cfg.Auth.Secret, cfg.Auth.TokenTTL)
	auditService := service.NewAuditService(auditRepo)

	consoleSrv := server.NewConsoleServer(
		logger,
		auth.NewVerifier(cfg.Auth.Secret),
		handler.NewAuthHandler(authService),
		handler.NewDashboardHandler(auditRepo),
		handler.NewAuditHandler(auditService),
	)

	// 3. Запуск сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.ConsolePort),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("console API started", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("listen failed", zap.Error(err))
	}
}
