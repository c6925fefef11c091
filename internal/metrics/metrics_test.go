package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsfabric/alertflow/internal/model"
)

type fakeStore struct {
	mu         sync.Mutex
	stats      []*model.Stat
	heartbeats []*model.Heartbeat
}

func (f *fakeStore) RecordStat(_ context.Context, stat *model.Stat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, stat)
	return nil
}

func (f *fakeStore) UpsertHeartbeat(_ context.Context, hb *model.Heartbeat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, hb)
	return nil
}

func (f *fakeStore) statCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stats)
}

func TestRecordProcessedAccumulates(t *testing.T) {
	store := &fakeStore{}
	r := New(store, "host1")

	require.NoError(t, r.RecordProcessed(context.Background(), time.Now().Add(-10*time.Millisecond)))
	require.NoError(t, r.RecordProcessed(context.Background(), time.Now().Add(-5*time.Millisecond)))

	last := store.stats[len(store.stats)-1]
	assert.Equal(t, model.StatNameProcessed, last.Name)
	assert.Equal(t, int64(2), last.Count)
	assert.True(t, last.TotalTime > 0)
}

func TestRecordReceivedClampsNegativeSkew(t *testing.T) {
	store := &fakeStore{}
	r := New(store, "host1")

	createTime := time.Now()
	receiveTime := createTime.Add(-50 * time.Millisecond) // clock skew: received "before" created

	require.NoError(t, r.RecordReceived(context.Background(), createTime, receiveTime))
	assert.Equal(t, int64(0), store.stats[0].TotalTime)
}

func TestRecordQueueLengthSetsGauge(t *testing.T) {
	store := &fakeStore{}
	r := New(store, "host1")

	require.NoError(t, r.RecordQueueLength(context.Background(), 42))
	assert.Equal(t, model.StatKindGauge, store.stats[0].Kind)
	assert.Equal(t, float64(42), store.stats[0].Value)
}

func TestRecordSelfHeartbeatUsesAlertaOrigin(t *testing.T) {
	store := &fakeStore{}
	r := New(store, "host1")

	require.NoError(t, r.RecordSelfHeartbeat(context.Background(), time.Now()))
	assert.Equal(t, "alerta/host1", store.heartbeats[0].Origin)
}

func TestRecordProcessedConcurrentCallersDoNotRace(t *testing.T) {
	store := &fakeStore{}
	r := New(store, "host1")

	const callers = 50
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_ = r.RecordProcessed(context.Background(), time.Now())
		}()
	}
	wg.Wait()

	assert.Equal(t, callers, store.statCount())
	assert.Equal(t, int64(callers), r.processed.count)
}

func TestRecordAllRecordsEverything(t *testing.T) {
	store := &fakeStore{}
	r := New(store, "host1")

	at := time.Now()
	alert := &model.Alert{CreateTime: at, ReceiveTime: at}
	require.NoError(t, r.RecordAll(context.Background(), at, alert, 3))

	assert.Len(t, store.stats, 3)
	assert.Len(t, store.heartbeats, 1)
}
