package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/safar/go-cart-store/internal/api"
	"github.com/safar/go-cart-store/internal/cache"
	"github.com/safar/go-cart-store/internal/cart"
	"github.com/safar/go-cart-store/internal/checkout"
	"github.com/safar/go-cart-store/internal/config"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/events"
	"github.com/safar/go-cart-store/internal/orders"
	"github.com/safar/go-cart-store/internal/store"
)

func main() {
	migrateUp := flag.Bool("migrate", false, "apply pending migrations before serving")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Create logger: %v", err)
	}
	defer logger.Sync()

	if code := exitCode(logger, run(cfg, *migrateUp, logger)); code != 0 {
		os.Exit(code)
	}
}

// exitCode logs a failed run and flushes the logger, since os.Exit skips
// deferred calls.
func exitCode(logger *zap.Logger, err error) int {
	if err == nil {
		return 0
	}
	logger.Error("server stopped", zap.Error(err))
	_ = logger.Sync()
	return 1
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, migrateUp bool, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	if migrateUp {
		if err := database.Migrate(db, cfg.Database.MigrationsPath, database.MigrateUp); err != nil {
			return err
		}
		logger.Info("migrations applied", zap.String("path", cfg.Database.MigrationsPath))
	}

	s := store.NewPostgres(db)

	var orderCache cache.OrderCache = cache.Nop{}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, order cache disabled", zap.Error(err))
		} else {
			orderCache = cache.NewRedisCache(client, cfg.Redis.OrderTTL)
		}
	}

	engine := cart.NewEngine(s, logger.Named("cart"))
	reconciler := checkout.NewReconciler(s, checkout.Options{
		MaxCodeAttempts: cfg.Checkout.MaxCodeAttempts,
		DefaultImageURL: cfg.Checkout.DefaultImageURL,
	}, logger.Named("checkout"))
	orderService := orders.NewService(s, orderCache, logger.Named("orders"))

	handler := api.NewHandler(engine, reconciler, orderService, api.Options{
		JWTSecret:        cfg.Auth.JWTSecret,
		BuyerCookieName:  cfg.Auth.BuyerCookieName,
		CookieExpiryDays: cfg.Auth.CookieExpiryDays,
	}, logger.Named("http"))

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(api.NewRouter(handler, cfg.Server.RequestTimeout), "cart-store"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Kafka.Enabled {
		publisher := events.NewKafkaPublisher(cfg.Kafka.Topic, cfg.Kafka.Brokers...)
		defer publisher.Close()

		poller := events.NewOutboxPoller(s, publisher, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, logger.Named("outbox"))
		g.Go(func() error { return poller.Run(gctx) })
	} else {
		logger.Info("kafka disabled, outbox events stay unpublished")
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
