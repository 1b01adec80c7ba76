package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "cardvault/docs" // swagger docs

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"cardvault/internal/cache"
	"cardvault/internal/config"
	"cardvault/internal/db"
	"cardvault/internal/handler"
	"cardvault/internal/lock"
	"cardvault/internal/logger"
	"cardvault/internal/model"
	"cardvault/internal/repository"
	"cardvault/internal/router"
	"cardvault/internal/security"
	"cardvault/internal/service"
)

const shutdownTimeout = 10 * time.Second

// @title Card Vault API
// @version 1.0
// @description Card issuance, lifecycle and transfers between a user's own cards.
// @host localhost:8080
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	gormDB, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		zl.Fatal("database init", zap.Error(err))
	}

	// Drop tables if RESET_DB environment variable is set
	if os.Getenv("RESET_DB") == "true" {
		zl.Warn("RESET_DB=true detected, dropping all tables")
		for _, table := range []interface{}{&model.Card{}, &model.User{}} {
			if err := gormDB.Migrator().DropTable(table); err != nil {
				zl.Warn("drop table", zap.Error(err))
			}
		}
	}

	if err := gormDB.AutoMigrate(&model.User{}, &model.Card{}); err != nil {
		zl.Fatal("auto-migrate", zap.Error(err))
	}

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer func() { _ = cacheClient.Close() }()

	lockOpts := lock.Options{
		Timeout:     cfg.LockTimeout,
		MaxAttempts: cfg.LockMaxAttempts,
		BackoffBase: cfg.LockBackoffBase,
	}
	var locker lock.Locker
	switch cfg.LockBackend {
	case "redis":
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := cacheClient.Ping(pingCtx)
		cancel()
		if err != nil {
			zl.Fatal("redis lock backend unreachable", zap.Error(err))
		}
		locker = lock.NewRedisLocker(cacheClient.Redis(), lockOpts, zl.Named("lock"))
	default:
		locker = lock.NewLocalLocker(lock.DefaultStripes, lockOpts)
	}
	zl.Info("card locks ready", zap.String("backend", cfg.LockBackend))

	codec, err := security.NewCodec(cfg.CardMasterKey)
	if err != nil {
		zl.Fatal("card codec init", zap.Error(err))
	}
	lifecycle := service.NewCardLifecycle(time.Now)

	// Initialize repositories
	cardRepo := repository.NewCardRepository(gormDB)
	userRepo := repository.NewUserRepository(gormDB)

	// Initialize services
	cardService := service.NewCardService(
		cardRepo,
		userRepo,
		cacheClient,
		codec,
		security.NewIssuer(),
		locker,
		lifecycle,
		zl.Named("cards"),
	)
	transferService := service.NewTransferService(cardRepo, locker, lifecycle, zl.Named("transfers"))

	sweeper, err := service.NewExpirySweeper(cardRepo, lifecycle, cfg.ExpirySweepSchedule, zl.Named("sweeper"))
	if err != nil {
		zl.Fatal("expiry sweeper init", zap.Error(err))
	}
	sweeper.Start()

	e := echo.New()
	e.HideBanner = true
	router.Register(
		e,
		[]byte(cfg.JWTSecret),
		zl.Named("http"),
		handler.NewCardHandler(cardService),
		handler.NewTransferHandler(transferService),
		handler.NewAdminCardHandler(cardService),
	)

	zl.Info("swagger documentation available", zap.String("url", swaggerURL(cfg.SwaggerHost, cfg.ServerPort)))

	go func() {
		addr := ":" + cfg.ServerPort
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			zl.Fatal("server start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zl.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		zl.Error("server shutdown", zap.Error(err))
	}
	sweeper.Stop(ctx)
}

func swaggerURL(host, port string) string {
	if host == "" {
		return "http://localhost:" + port + "/swagger/index.html"
	}
	// SwaggerHost may already include scheme (http:// or https://)
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host + "/swagger/index.html"
	}
	return "http://" + host + "/swagger/index.html"
}
