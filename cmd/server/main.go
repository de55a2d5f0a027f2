package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/clock"
	"github.com/iliyamo/raffle-settlement/internal/config"
	"github.com/iliyamo/raffle-settlement/internal/database"
	"github.com/iliyamo/raffle-settlement/internal/gateway"
	"github.com/iliyamo/raffle-settlement/internal/handler"
	"github.com/iliyamo/raffle-settlement/internal/lock"
	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/iliyamo/raffle-settlement/internal/middleware"
	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/notify"
	"github.com/iliyamo/raffle-settlement/internal/queue"
	"github.com/iliyamo/raffle-settlement/internal/repository"
	"github.com/iliyamo/raffle-settlement/internal/router"
	"github.com/iliyamo/raffle-settlement/internal/scheduler"
	"github.com/iliyamo/raffle-settlement/internal/service"
	"github.com/iliyamo/raffle-settlement/internal/utils"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	log, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn("using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}
	db, err := database.Open(cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DB.Bootstrap {
		if err := database.Bootstrap(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info("schema applied")
	}
	return repository.NewMySQLStore(db), func() { _ = db.Close() }, nil
}

func seedOperator(ctx context.Context, cfg config.AuthConfig, ops repository.OperatorStore, log *zap.Logger) error {
	if cfg.SeedOperatorEmail == "" || cfg.SeedOperatorPassword == "" {
		return nil
	}
	hash, err := utils.HashPassword(cfg.SeedOperatorPassword, cfg.BcryptCost)
	if err != nil {
		return err
	}
	err = ops.CreateOperator(ctx, &model.Operator{
		Email:        cfg.SeedOperatorEmail,
		PasswordHash: hash,
		Role:         model.RoleOperator,
		IsActive:     true,
	})
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return nil
	case err != nil:
		return err
	}
	log.Info("seed operator created", zap.String("email", cfg.SeedOperatorEmail))
	return nil
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := seedOperator(ctx, cfg.Auth, store, log); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}
	opts, err := cfg.Engine.Options()
	if err != nil {
		return err
	}
	clk := clock.System()

	deps := service.Deps{
		Store:   store,
		IDs:     node,
		Clock:   clk,
		Metrics: m,
		Logger:  log,
		Options: opts,
	}
	if cfg.Gateway.AccessToken != "" {
		deps.Gateway = gateway.NewClient(cfg.Gateway.Client(), m, log)
	} else {
		log.Warn("MP_ACCESS_TOKEN not set; webhooks and polling are disabled")
	}
	if cfg.RabbitMQURL != "" {
		deps.Publisher = queue.NewPublisher(cfg.RabbitMQURL, log)
		if tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.AlertChatID, log); err == nil {
			consumer := queue.NewAnomalyConsumer(cfg.RabbitMQURL, tg, log)
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("anomaly consumer stopped", zap.Error(err))
				}
			}()
		} else {
			log.Info("telegram alerts disabled", zap.Error(err))
		}
	}
	engine := service.NewEngine(deps)

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	} else {
		log.Warn("redis unavailable; rate limiting and job locks are disabled")
	}
	var locker scheduler.Locker
	if l := lock.NewLocker(rdb); l != nil {
		locker = l
	}
	jobs, err := scheduler.New(cfg.Scheduler(), engine.Reconciler, locker, clk, m, log)
	if err != nil {
		return err
	}
	jobs.Start()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	router.RegisterRoutes(e, registry)
	router.RegisterPublic(e, handler.NewPurchaseHandler(engine),
		middleware.NewTokenBucket(cfg.RateLimit, rdb, "public", log))
	router.RegisterWebhooks(e, handler.NewWebhookHandler(engine.Reconciler, cfg.Gateway.WebhookSecret, log))
	router.RegisterAuth(e, handler.NewAuthHandler(cfg.Auth, store, clk), cfg.Auth.JWTSecret)
	router.RegisterAdmin(e, handler.NewAdminHandler(engine, clk, log), cfg.Auth.JWTSecret)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	return jobs.Stop(shutdownCtx)
}
