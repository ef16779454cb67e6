package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/abkawan/bank-transfers/internal/config"
	"github.com/abkawan/bank-transfers/internal/db"
	"github.com/abkawan/bank-transfers/internal/logging"
	"github.com/abkawan/bank-transfers/internal/queue"
	"github.com/abkawan/bank-transfers/internal/service"
)

// The processor records ledger events in the journal and runs balance accrual.
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

	journalService := service.NewJournalService(mongodb, logger)
	consumerDone, err := journalService.StartProcessor(ctx, rabbitmq)
	if err != nil {
		logger.Fatalw("failed to start journal processor", "error", err)
	}
	logger.Info("journal processor started")

	ledger := service.NewLedger(postgres, rabbitmq, logger, nil)
	scheduler := service.NewAccrualScheduler(ledger, postgres, cfg.Accrual.Interval.Duration(), logger)

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down processor")
	cancel()

	// the scheduler waits for a running accrual batch before returning
	<-schedulerDone
	<-consumerDone
	logger.Info("processor shut down successfully")
}
