// Package metrics implements the Metrics Recorder (spec.md §4.8,
// component H): the three management stats upserted per processed alert,
// plus the server's own self-heartbeat. All of it is plain arithmetic over
// internal/store — no metrics library in the corpus owns management stats
// shaped like alerts themselves (see DESIGN.md).
package metrics

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/opsfabric/alertflow/internal/model"
)

// Store is the subset of *store.Store the recorder needs.
type Store interface {
	RecordStat(ctx context.Context, stat *model.Stat) error
	UpsertHeartbeat(ctx context.Context, hb *model.Heartbeat) error
}

// Recorder accumulates and persists the three alerts.* stats plus the
// self-heartbeat. It is shared across all worker goroutines (spec.md §5
// "shared resources...must be safe for concurrent use"), so the running
// counters are guarded by mu.
type Recorder struct {
	store  Store
	origin string

	mu         sync.Mutex
	processed  counters
	received   counters
	queueGauge float64
}

type counters struct {
	count     int64
	totalTime int64
}

// New builds a Recorder. host identifies this server instance in its
// self-heartbeat origin ("alerta/<host>", spec.md §4.8).
func New(store Store, host string) *Recorder {
	if host == "" {
		host, _ = os.Hostname()
	}
	return &Recorder{store: store, origin: model.SelfOrigin(host)}
}

// RecordProcessed records one processed alert's work duration and upserts
// the alerts.processed timer (spec.md §4.8).
func (r *Recorder) RecordProcessed(ctx context.Context, workStart time.Time) error {
	elapsedMS := time.Since(workStart).Milliseconds()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed.count++
	r.processed.totalTime += elapsedMS
	return r.store.RecordStat(ctx, &model.Stat{
		Group:     model.StatGroupAlerts,
		Name:      model.StatNameProcessed,
		Kind:      model.StatKindTimer,
		Count:     r.processed.count,
		TotalTime: r.processed.totalTime,
	})
}

// RecordReceived records one alert's ingress latency (receiveTime -
// createTime, clamped to zero under clock skew — see DESIGN.md's Open
// Question decision) and upserts the alerts.received timer.
func (r *Recorder) RecordReceived(ctx context.Context, createTime, receiveTime time.Time) error {
	latencyMS := receiveTime.Sub(createTime).Milliseconds()
	if latencyMS < 0 {
		latencyMS = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.received.count++
	r.received.totalTime += latencyMS
	return r.store.RecordStat(ctx, &model.Stat{
		Group:     model.StatGroupAlerts,
		Name:      model.StatNameReceived,
		Kind:      model.StatKindTimer,
		Count:     r.received.count,
		TotalTime: r.received.totalTime,
	})
}

// RecordQueueLength upserts the alerts.queue gauge.
func (r *Recorder) RecordQueueLength(ctx context.Context, length int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queueGauge = float64(length)
	return r.store.RecordStat(ctx, &model.Stat{
		Group: model.StatGroupAlerts,
		Name:  model.StatNameQueue,
		Kind:  model.StatKindGauge,
		Value: r.queueGauge,
	})
}

// RecordSelfHeartbeat upserts the server's own liveness record, keyed by
// origin "alerta/<host>" (spec.md §4.8).
func (r *Recorder) RecordSelfHeartbeat(ctx context.Context, now time.Time) error {
	return r.store.UpsertHeartbeat(ctx, &model.Heartbeat{
		Origin:      r.origin,
		Version:     "1.0",
		CreateTime:  now,
		ReceiveTime: now,
	})
}

// RecordAll records all three stats for one processed alert plus the
// self-heartbeat — the bundled call each worker makes after a path
// completes (spec.md §4.5 "All three paths complete by recording metrics
// and self-heartbeat").
func (r *Recorder) RecordAll(ctx context.Context, workStart time.Time, alert *model.Alert, queueLength int64) error {
	if err := r.RecordProcessed(ctx, workStart); err != nil {
		return err
	}
	if err := r.RecordReceived(ctx, alert.CreateTime, alert.ReceiveTime); err != nil {
		return err
	}
	if err := r.RecordQueueLength(ctx, queueLength); err != nil {
		return err
	}
	return r.RecordSelfHeartbeat(ctx, time.Now())
}
