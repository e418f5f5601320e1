package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/Capybara-Clinic/capybara-qr-order/internal/adapter/handler"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/adapter/messaging"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/adapter/qr"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/adapter/storage"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/config"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/core/service"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/logger"
	"github.com/Capybara-Clinic/capybara-qr-order/internal/port"
)

const shutdownTimeout = 10 * time.Second

// store is the database port plus the health probe the HTTP layer exposes.
type store interface {
	port.DatabaseRepository
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load(".", "./config")
	if err != nil {
		logger.New("qr-order", "info").Error("startup", "failed to load config", "", err, nil)
		os.Exit(1)
	}

	log := logger.New("qr-order", cfg.Log.Level)
	if err := run(cfg, log); err != nil {
		log.Error("startup", "server exited", "", err, nil)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, closeDB, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()

	cache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	events, err := openPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer events.Close()

	orderService := service.NewOrderService(db, cache, events, log)
	tableService := service.NewTableService(db, log)
	menuService := service.NewMenuService(db, log)
	feedService := service.NewFeedService(db, cache, cfg.Feed.PollInterval, log)

	httpHandler := handler.NewHTTPHandler(
		orderService,
		tableService,
		menuService,
		feedService,
		qr.NewGenerator(cfg.Server.PublicBaseURL),
		db,
		log,
	)

	// No WriteTimeout: the SSE and websocket feeds are long-lived responses.
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	handler.RegisterKitchenFeedServer(grpcServer, handler.NewGRPCHandler(feedService, log))

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("startup", "HTTP server listening", "", map[string]any{"addr": cfg.Server.HTTPAddr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info("startup", "gRPC server listening", "", map[string]any{"addr": cfg.Server.GRPCAddr})
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown", "shutting down", "", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := shutdown(shutdownCtx, feedService, httpServer, grpcServer)
		log.Info("shutdown", "servers stopped", "", nil)
		return err
	})

	return g.Wait()
}

// shutdown ends the kitchen feeds first so neither server waits on a stream
// that never finishes. gRPC is force-stopped once ctx expires.
func shutdown(ctx context.Context, feed *service.FeedService, httpServer *http.Server, grpcServer *grpc.Server) error {
	feed.Close()

	err := httpServer.Shutdown(ctx)

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		grpcServer.Stop()
		<-stopped
	}
	return err
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store, func(), error) {
	if cfg.Database.Driver == "memory" {
		mem := storage.NewMemoryAdapter(cfg.Tables.Count)
		mem.SeedDemoMenu()
		log.Warn("startup", "using in-memory store, data is lost on restart", "", nil, map[string]any{"tables": cfg.Tables.Count})
		return mem, func() {}, nil
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN())
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	adapter := storage.NewMySQLAdapter(db)
	if err := adapter.Migrate(ctx, cfg.Tables.Count); err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Info("startup", "connected to mysql", "", map[string]any{"host": cfg.Database.Host, "database": cfg.Database.Name})

	return adapter, func() { db.Close() }, nil
}

func openCache(ctx context.Context, cfg *config.Config, log *logger.Logger) (port.CacheRepository, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Info("startup", "redis not configured, using local cache", "", nil)
		return storage.NewLocalCache(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, err
	}
	log.Info("startup", "connected to redis", "", map[string]any{"addr": cfg.Redis.Addr})

	return storage.NewRedisAdapter(rdb), func() { rdb.Close() }, nil
}

func openPublisher(cfg *config.Config, log *logger.Logger) (port.EventPublisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return messaging.NopPublisher{}, nil
	}

	publisher, err := messaging.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	if err != nil {
		return nil, err
	}
	log.Info("startup", "publishing order events to kafka", "", map[string]any{"topic": cfg.Kafka.Topic})
	return publisher, nil
}
