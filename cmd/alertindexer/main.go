// Command alertindexer runs the search-index fan-out process (component I):
// it subscribes to the logger queue independently of alertserver and POSTs
// each alert to a search backend, tolerating loss on failure by design.
// Wiring and shutdown mirror cmd/alertserver's shape, trimmed to this
// process's single subsystem (broker + indexer, no store or worker pool).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsfabric/alertflow/internal/broker"
	"github.com/opsfabric/alertflow/internal/config"
	"github.com/opsfabric/alertflow/internal/indexer"
	"github.com/opsfabric/alertflow/internal/logger"
	"github.com/opsfabric/alertflow/internal/lock"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("alertindexer: %v", err)
	}
}

func run() error {
	logger.Init(logger.DefaultConfig())
	defer logger.Sync()
	sugar := logger.S()

	cfg, err := config.LoadIndexerConfig()
	if err != nil {
		return err
	}

	fileLock, err := lock.Acquire(cfg.LockFilePath)
	if err != nil {
		return err
	}
	defer fileLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokerClient := broker.New(broker.Config{
		Brokers: cfg.Brokers,
		GroupID: cfg.BrokerGroupID,
		Logger:  sugar,
	})
	if err := brokerClient.Start(ctx); err != nil {
		return err
	}
	defer brokerClient.Close()

	idx := indexer.New(indexer.Config{IndexBaseURL: cfg.IndexBaseURL, Logger: sugar})

	handler := func(ctx context.Context, msg broker.Message) error {
		return idx.Handle(ctx, msg.Body)
	}
	if err := brokerClient.Subscribe(ctx, cfg.LoggerTopic, handler); err != nil {
		return err
	}

	sugar.Infow("alertindexer started", "brokers", cfg.Brokers, "loggerTopic", cfg.LoggerTopic, "indexBaseURL", cfg.IndexBaseURL)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Infow("alertindexer shutting down")

	// No worker pool or store to drain here; the deferred brokerClient.Close
	// cancels the subscription goroutine and releases the consumer.
	return nil
}
