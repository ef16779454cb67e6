package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abkawan/bank-transfers/internal/api"
	"github.com/abkawan/bank-transfers/internal/cache"
	"github.com/abkawan/bank-transfers/internal/config"
	"github.com/abkawan/bank-transfers/internal/db"
	"github.com/abkawan/bank-transfers/internal/logging"
	"github.com/abkawan/bank-transfers/internal/queue"
	"github.com/abkawan/bank-transfers/internal/service"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zl, err := logging.New(logging.Config{Level: cfg.Log.Level, Dev: cfg.Log.Dev})
	if err != nil {
		panic(err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	logger.Info("connecting to postgres")
	postgres, err := db.NewPostgres(cfg.Postgres.URI)
	if err != nil {
		logger.Fatalw("failed to connect to postgres", "error", err)
	}
	defer postgres.Close()

	logger.Info("applying migrations")
	if err := postgres.InitSchema(ctx); err != nil {
		logger.Fatalw("failed to create schema", "error", err)
	}

	logger.Info("connecting to mongodb")
	mongodb, err := db.NewMongoDB(cfg.Mongo.URI, cfg.Mongo.DBName)
	if err != nil {
		logger.Fatalw("failed to connect to mongodb", "error", err)
	}
	defer mongodb.Close(context.Background())

	logger.Info("connecting to rabbitmq")
	rabbitmq, err := queue.NewRabbitMQ(cfg.RabbitMQ.URI, logger)
	if err != nil {
		logger.Fatalw("failed to connect to rabbitmq", "error", err)
	}
	defer rabbitmq.Close()

	var searchCache service.SearchCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatalw("failed to connect to redis", "error", err)
		}
		defer rdb.Close()
		searchCache = cache.NewSearchCache(rdb, cfg.Redis.TTL.Duration())
		logger.Infow("search cache enabled", "addr", cfg.Redis.Addr)
	}

	ledger := service.NewLedger(postgres, rabbitmq, logger, nil)
	tokens := service.TokenSettings{Secret: []byte(cfg.Auth.JWTSecret), TTL: cfg.Auth.TokenTTL.Duration()}
	userService := service.NewUserService(postgres, ledger, searchCache, tokens, logger)
	journalService := service.NewJournalService(mongodb, logger)

	router := mux.NewRouter()
	api.SetupRoutes(router, userService, journalService, tokens.Secret, logger)

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout.Duration(),
		WriteTimeout: cfg.HTTP.WriteTimeout.Duration(),
		IdleTimeout:  cfg.HTTP.IdleTimeout.Duration(),
	}

	go func() {
		logger.Infow("starting server", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("failed to start server", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("server shutdown failed", "error", err)
		return
	}
	logger.Info("server shut down successfully")
}
