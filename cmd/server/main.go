package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/config"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/database"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/documents"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/handler"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/lock"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/middleware"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/queue"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/router"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/service"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/utils"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/vipps"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := utils.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	var rdb *redis.Client
	if cfg.LockBackend == config.LockBackendRedis {
		rdb = config.NewRedisClient(cfg)
		if rdb == nil {
			logger.Warn("redis unreachable, using database booking lock", zap.String("addr", cfg.RedisAddress()))
		} else {
			defer rdb.Close()
		}
	}
	bookingLock := newBookingLock(ctx, rdb, db, cfg.LockTTL, logger)

	var notifier service.Notifier = queue.LogNotifier{Log: logger}
	if cfg.RabbitURL != "" {
		pub, err := queue.Dial(cfg.RabbitURL, cfg.NotifyQueue, logger)
		if err != nil {
			logger.Warn("rabbitmq unavailable, notifications go to the log", zap.Error(err))
		} else {
			defer pub.Close()
			notifier = pub
			consumer := queue.NewConsumer(cfg.RabbitURL, cfg.NotifyQueue, queue.LogSender{Log: logger}, logger)
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("notification consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	var gateway service.PaymentGateway
	if vc := vipps.NewClient(cfg.Vipps(), &http.Client{Timeout: 15 * time.Second}, logger); vc.Configured() {
		gateway = vc
	} else {
		logger.Info("vipps is not configured, payments disabled")
	}

	core := service.NewCore(db, service.NewStores(), bookingLock, gateway,
		documents.NewOSStore(cfg.DocumentRoot), notifier, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))
	router.RegisterRoutes(e,
		&handler.HealthHandler{DB: db},
		&handler.PaymentHandler{Payments: core.Payments, Log: logger},
		middleware.NewTokenBucket(cfg.RateLimit(), rdb, logger),
	)

	go func() {
		addr := ":" + cfg.Port
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}

// newBookingLock picks the Redis lock when a client is available and the
// database lock otherwise.  Expired database locks left by crashed holders
// are purged once at startup and then every TTL.
func newBookingLock(ctx context.Context, rdb *redis.Client, db *sql.DB, ttl time.Duration, logger *zap.Logger) *lock.BookingLock {
	if rdb != nil {
		return lock.NewBookingLock(lock.NewRedisLocker(rdb), ttl, logger)
	}
	dl := lock.NewDBLocker(db)
	purge := func() {
		if n, err := dl.PurgeExpired(ctx); err != nil {
			logger.Warn("purge expired booking locks", zap.Error(err))
		} else if n > 0 {
			logger.Info("purged expired booking locks", zap.Int64("count", n))
		}
	}
	purge()
	go func() {
		t := time.NewTicker(ttl)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				purge()
			}
		}
	}()
	return lock.NewBookingLock(dl, ttl, logger)
}
