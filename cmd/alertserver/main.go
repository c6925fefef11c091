// Command alertserver runs the alert correlation and persistence server: broker
// ingress, rule engine, dedup/correlation, status machine, persistence, and
// publish fan-out. Component wiring follows the teacher's cmd/nnc entrypoint
// shape (thin main delegating to run()); the shutdown sequence follows
// main.prod.go's signal-triggered, ordered-teardown goroutine, adapted from
// (echo server, alert engine, schedulers, event bus, db manager) to this
// server's own subsystems (worker pool, broker client, store, lock).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsfabric/alertflow/internal/broker"
	"github.com/opsfabric/alertflow/internal/config"
	"github.com/opsfabric/alertflow/internal/correlate"
	"github.com/opsfabric/alertflow/internal/logger"
	"github.com/opsfabric/alertflow/internal/lock"
	"github.com/opsfabric/alertflow/internal/metrics"
	"github.com/opsfabric/alertflow/internal/model"
	"github.com/opsfabric/alertflow/internal/publish"
	"github.com/opsfabric/alertflow/internal/queue"
	"github.com/opsfabric/alertflow/internal/rules"
	"github.com/opsfabric/alertflow/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("alertserver: %v", err)
	}
}

func run() error {
	logger.Init(logger.DefaultConfig())
	defer logger.Sync()
	sugar := logger.S()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		return err
	}

	// A live peer holding the lock fails startup fast (spec.md §7).
	fileLock, err := lock.Acquire(cfg.LockFilePath)
	if err != nil {
		return err
	}
	defer fileLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()

	brokerClient := broker.New(broker.Config{
		Brokers: cfg.Brokers,
		GroupID: cfg.BrokerGroupID,
		Logger:  sugar,
	})
	// Start fails only when no broker endpoints are configured; it does not
	// check that a broker is reachable.
	if err := brokerClient.Start(ctx); err != nil {
		return err
	}
	defer brokerClient.Close()

	// Validate the rule file at startup so a misconfiguration surfaces in
	// the logs immediately, even though alertWorker reloads it fresh per
	// message (spec.md §4.2 — see DESIGN.md decision 4).
	if _, err := rules.Load(cfg.RuleFile); err != nil {
		sugar.Warnw("failed to load rule file, starting with an empty rule set", "path", cfg.RuleFile, "error", err)
	}

	correlator := correlate.New(st)
	publisher := publish.New(brokerClient, publish.Config{NotifyTopic: cfg.NotifyTopic, LoggerTopic: cfg.LoggerTopic}, sugar)
	recorder := metrics.New(st, cfg.Hostname)
	q := queue.New(cfg.QueueBuffer)
	defer q.Close()

	dispatcher := &ingressDispatcher{queue: q, store: st, logger: sugar}
	if err := brokerClient.Subscribe(ctx, cfg.AlertsTopic, dispatcher.handle); err != nil {
		return err
	}

	worker := &alertWorker{
		ruleFile:   cfg.RuleFile,
		correlator: correlator,
		publisher:  publisher,
		recorder:   recorder,
		queue:      q,
		logger:     sugar,
	}
	pool, err := q.StartWorkers(ctx, cfg.WorkerCount, worker.process)
	if err != nil {
		return err
	}

	sugar.Infow("alertserver started",
		"brokers", cfg.Brokers, "workers", cfg.WorkerCount, "alertsTopic", cfg.AlertsTopic)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Infow("alertserver shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	drained := make(chan struct{})
	go func() {
		pool.Shutdown(cfg.WorkerCount)
		close(drained)
	}()

	select {
	case <-drained:
		sugar.Infow("worker pool drained")
	case <-shutdownCtx.Done():
		sugar.Warnw("shutdown timed out waiting for workers to drain, exiting anyway")
	}

	return nil
}

// ingressDispatcher implements the ingress step (spec.md §4.3, component C):
// decode, stamp receiveTime, fold heartbeats immediately, enqueue everything
// else for the worker pool.
type ingressDispatcher struct {
	queue  *queue.Queue
	store  *store.Store
	logger sugaredLogger
}

// sugaredLogger is the subset of *zap.SugaredLogger this package calls,
// named here so it doesn't need to import zap just for a field type.
type sugaredLogger interface {
	Errorw(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
}

func (d *ingressDispatcher) handle(ctx context.Context, msg broker.Message) error {
	inbound, err := model.DecodeInbound(msg.Body)
	if err != nil {
		d.logger.Errorw("failed to decode inbound message, dropping", "error", err)
		return nil
	}

	receiveTime := time.Now().UTC()
	createTime, err := model.ParseTime(inbound.CreateTime)
	if err != nil {
		createTime = receiveTime
	}

	if inbound.IsHeartbeat() {
		return d.store.UpsertHeartbeat(ctx, &model.Heartbeat{
			Origin:      inbound.Origin,
			Version:     inbound.Version,
			CreateTime:  createTime,
			ReceiveTime: receiveTime,
		})
	}

	alert := inbound.ToAlert()
	alert.CreateTime = createTime
	alert.ReceiveTime = receiveTime
	correlate.SetTimeout(alert, inbound.Timeout)

	return d.queue.Enqueue(alert)
}

// alertWorker implements the per-message work (component D): apply rules,
// correlate, publish, record metrics.
type alertWorker struct {
	ruleFile   string
	correlator *correlate.Engine
	publisher  *publish.Publisher
	recorder   *metrics.Recorder
	queue      *queue.Queue
	logger     sugaredLogger
}

func (w *alertWorker) process(ctx context.Context, alert *model.Alert) error {
	workStart := time.Now()

	// Rules are reloaded fresh per message (spec.md §4.2: current behaviour
	// preserved, no hot-reload signalling — see DESIGN.md decision 4).
	engine, err := rules.Load(w.ruleFile)
	if err != nil {
		w.logger.Warnw("rule reload failed, using empty rule set for this message", "error", err)
		engine = rules.NewEngine(nil)
	}

	suppressed, err := engine.Apply(alert)
	if err != nil {
		w.logger.Errorw("rule engine error, processing alert unmutated", "id", alert.ID, "error", err)
	}
	if suppressed {
		return nil
	}

	outcome, err := w.correlator.Process(ctx, alert)
	if err != nil {
		w.logger.Errorw("correlation failed, skipping publish and metrics for this alert", "id", alert.ID, "error", err)
		return nil
	}

	if outcome.ShouldPublish {
		w.publisher.Publish(ctx, outcome.Alert)
	}

	if err := w.recorder.RecordAll(ctx, workStart, outcome.Alert, w.queue.Len()); err != nil {
		w.logger.Errorw("metrics recording failed", "id", outcome.Alert.ID, "error", err)
	}
	return nil
}
