package correlate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsfabric/alertflow/internal/apperr"
	"github.com/opsfabric/alertflow/internal/model"
)

// memStore is a minimal in-memory Store fake for exercising the engine
// without sqlite. It tracks a version per key, separately from the alert
// copies it hands back, and enforces the same compare-and-set contract as
// store.Store.Save: a caller's Save only lands if it is still holding the
// version the row was last read at. mu guards both maps so concurrent
// Process calls racing on the same key see a serialized, conflict-detecting
// Save rather than a corrupted map.
type memStore struct {
	mu       sync.Mutex
	byID     map[string]*model.Alert
	versions map[string]int64
}

func newMemStore() *memStore {
	return &memStore{byID: map[string]*model.Alert{}, versions: map[string]int64{}}
}

func (m *memStore) FindByKey(_ context.Context, key model.Key) (*model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Key() == key {
			cp := *a
			cp.Version = m.versions[a.ID]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindCandidatesByResource(_ context.Context, environment []string, resource string) ([]*model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Alert
	envKey := model.KeyOf(environment, "", "").Environment
	for _, a := range m.byID {
		if model.KeyOf(a.Environment, "", "").Environment == envKey && a.Resource == resource && a.Status != model.StatusClosed {
			cp := *a
			cp.Version = m.versions[a.ID]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) InsertNew(_ context.Context, alert *model.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[alert.ID]; exists {
		return apperr.New(apperr.CodeStoreConflict, "alert already exists for key", nil)
	}
	alert.Version = 0
	cp := *alert
	m.byID[alert.ID] = &cp
	m.versions[alert.ID] = 0
	return nil
}

func (m *memStore) Save(_ context.Context, alert *model.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions[alert.ID] != alert.Version {
		return apperr.New(apperr.CodeStoreConflict, "save alert: stale version for "+alert.ID, nil)
	}
	m.versions[alert.ID]++
	alert.Version = m.versions[alert.ID]
	cp := *alert
	m.byID[alert.ID] = &cp
	return nil
}

func newInbound(id, resource, event string, severity model.Severity, at time.Time) *model.Alert {
	a := &model.Alert{
		ID:            id,
		Environment:   []string{"PROD"},
		Resource:      resource,
		Event:         event,
		Severity:      severity,
		SeverityCode:  severity.Code(),
		CreateTime:    at,
		ReceiveTime:   at,
		LastReceiveID: id,
	}
	SetTimeout(a, nil)
	return a
}

func TestProcessNewOpen(t *testing.T) {
	store := newMemStore()
	engine := New(store)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a1 := newInbound("a1", "h1", "Down", model.SeverityMajor, at)
	timeout := int64(600)
	SetTimeout(a1, &timeout)

	outcome, err := engine.Process(context.Background(), a1)
	require.NoError(t, err)
	assert.Equal(t, KindNew, outcome.Kind)
	assert.True(t, outcome.ShouldPublish)
	assert.Equal(t, model.StatusOpen, outcome.Alert.Status)
	assert.Equal(t, model.SeverityUnknown, outcome.Alert.PreviousSeverity)
	assert.Equal(t, 0, outcome.Alert.DuplicateCount)
	require.NotNil(t, outcome.Alert.ExpireTime)
	assert.Equal(t, 10*time.Minute, outcome.Alert.ExpireTime.Sub(at))
}

func TestProcessDuplicateIncrements(t *testing.T) {
	store := newMemStore()
	engine := New(store)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a1 := newInbound("a1", "h1", "Down", model.SeverityMajor, at)
	_, err := engine.Process(context.Background(), a1)
	require.NoError(t, err)

	a2 := newInbound("a2", "h1", "Down", model.SeverityMajor, at.Add(time.Minute))
	outcome, err := engine.Process(context.Background(), a2)
	require.NoError(t, err)

	assert.Equal(t, KindDuplicate, outcome.Kind)
	assert.False(t, outcome.ShouldPublish)
	assert.Equal(t, 1, outcome.Alert.DuplicateCount)
	assert.Equal(t, "a2", outcome.Alert.LastReceiveID)
	assert.True(t, outcome.Alert.Repeat)
	assert.Equal(t, model.StatusOpen, outcome.Alert.Status)
}

func TestProcessSeverityChangeMajorToCritical(t *testing.T) {
	store := newMemStore()
	engine := New(store)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a1 := newInbound("a1", "h1", "Down", model.SeverityMajor, at)
	_, err := engine.Process(context.Background(), a1)
	require.NoError(t, err)

	a3 := newInbound("a3", "h1", "Down", model.SeverityCritical, at.Add(2*time.Minute))
	outcome, err := engine.Process(context.Background(), a3)
	require.NoError(t, err)

	assert.Equal(t, KindSeverityChange, outcome.Kind)
	assert.True(t, outcome.ShouldPublish)
	assert.Equal(t, model.SeverityMajor, outcome.Alert.PreviousSeverity)
	assert.Equal(t, model.SeverityCritical, outcome.Alert.Severity)
	assert.Equal(t, 0, outcome.Alert.DuplicateCount)
	assert.False(t, outcome.Alert.Repeat)
	assert.Equal(t, model.StatusOpen, outcome.Alert.Status)
}

func TestProcessClearingClosesAlert(t *testing.T) {
	store := newMemStore()
	engine := New(store)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a1 := newInbound("a1", "h1", "Down", model.SeverityCritical, at)
	_, err := engine.Process(context.Background(), a1)
	require.NoError(t, err)

	a4 := newInbound("a4", "h1", "Down", model.SeverityNormal, at.Add(3*time.Minute))
	outcome, err := engine.Process(context.Background(), a4)
	require.NoError(t, err)

	assert.Equal(t, model.StatusClosed, outcome.Alert.Status)
	assert.Equal(t, model.SeverityCritical, outcome.Alert.PreviousSeverity)
}

func TestProcessCorrelatedEventMatchesAsSeverityChange(t *testing.T) {
	store := newMemStore()
	engine := New(store)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	pingFail := newInbound("p1", "h1", "PingFail", model.SeverityMajor, at)
	pingFail.CorrelatedEvents = []string{"PingTimeout"}
	_, err := engine.Process(context.Background(), pingFail)
	require.NoError(t, err)

	pingTimeout := newInbound("p2", "h1", "PingTimeout", model.SeverityMajor, at.Add(time.Minute))
	outcome, err := engine.Process(context.Background(), pingTimeout)
	require.NoError(t, err)

	assert.Equal(t, KindSeverityChange, outcome.Kind)
	assert.Equal(t, "PingTimeout", outcome.Alert.Event)
}

func TestProcessConcurrentDuplicatesDoNotLoseUpdates(t *testing.T) {
	store := newMemStore()
	engine := New(store)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a1 := newInbound("a1", "h1", "Down", model.SeverityMajor, at)
	_, err := engine.Process(context.Background(), a1)
	require.NoError(t, err)

	// N workers race Process calls for duplicates of the same key
	// concurrently. Each one reads the stored alert, increments
	// duplicateCount in memory, and calls Save. Without a compare-and-set
	// Save, two workers reading the same stale duplicateCount would both
	// write back count+1 and one increment would be lost.
	const workers = 10
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			dup := newInbound("dup", "h1", "Down", model.SeverityMajor, at.Add(time.Duration(n+1)*time.Second))
			_, err := engine.Process(context.Background(), dup)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	final, err := store.FindByKey(context.Background(), a1.Key())
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, workers, final.DuplicateCount)
}

func TestSetTimeoutZeroLeavesExpireEmpty(t *testing.T) {
	a := &model.Alert{CreateTime: time.Now()}
	zero := int64(0)
	SetTimeout(a, &zero)
	assert.Nil(t, a.ExpireTime)
}

func TestSetTimeoutAbsentAppliesDefault(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &model.Alert{CreateTime: at}
	SetTimeout(a, nil)
	require.NotNil(t, a.ExpireTime)
	assert.Equal(t, DefaultTimeout, a.ExpireTime.Sub(at))
}
