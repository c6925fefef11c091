package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsfabric/alertflow/internal/model"
)

func TestEnqueueIncrementsLen(t *testing.T) {
	q := New(16)
	defer q.Close()

	require.NoError(t, q.Enqueue(&model.Alert{LastReceiveID: "01"}))
	require.NoError(t, q.Enqueue(&model.Alert{LastReceiveID: "02"}))
	assert.Equal(t, int64(2), q.Len())
}

func TestWorkerDrainsAndDecrementsLen(t *testing.T) {
	q := New(16)
	defer q.Close()

	var mu sync.Mutex
	var seen []string

	pool, err := q.StartWorkers(context.Background(), 1, func(_ context.Context, a *model.Alert) error {
		mu.Lock()
		seen = append(seen, a.LastReceiveID)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(&model.Alert{LastReceiveID: "a1"}))
	require.NoError(t, q.Enqueue(&model.Alert{LastReceiveID: "a2"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(0), q.Len())

	pool.Shutdown(1)
}

func TestShutdownStopsAllWorkers(t *testing.T) {
	q := New(16)
	defer q.Close()

	var processed atomic32
	pool, err := q.StartWorkers(context.Background(), 3, func(_ context.Context, _ *model.Alert) error {
		processed.incr()
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		require.NoError(t, q.Enqueue(&model.Alert{LastReceiveID: "x"}))
	}

	require.Eventually(t, func() bool {
		return processed.get() == 6
	}, time.Second, 5*time.Millisecond)

	// Give any over-eager fan-out a chance to show up before asserting the
	// count holds: with n competing workers over one subscription, each of
	// the 6 enqueued alerts must be processed exactly once, not once per
	// worker.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 6, processed.get())

	done := make(chan struct{})
	go func() {
		pool.Shutdown(3)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

func TestWorkersAreCompetingConsumers(t *testing.T) {
	q := New(32)
	defer q.Close()

	var mu sync.Mutex
	counts := map[string]int{}

	pool, err := q.StartWorkers(context.Background(), 4, func(_ context.Context, a *model.Alert) error {
		mu.Lock()
		counts[a.LastReceiveID]++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	ids := []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8"}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(&model.Alert{LastReceiveID: id}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(counts) == len(ids)
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids {
		assert.Equal(t, 1, counts[id], "message %s processed more than once (fan-out instead of competing consumers)", id)
	}

	pool.Shutdown(4)
}

// atomic32 is a tiny counter to avoid pulling in sync/atomic's verbose
// generic helpers for a single test.
type atomic32 struct {
	mu sync.Mutex
	n  int
}

func (a *atomic32) incr() {
	a.mu.Lock()
	a.n++
	a.mu.Unlock()
}

func (a *atomic32) get() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}
