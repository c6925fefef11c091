package publish

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsfabric/alertflow/internal/model"
)

type fakeBroker struct {
	mu        sync.Mutex
	connected bool
	published []published
}

type published struct {
	destination string
	headers     map[string]string
	body        []byte
}

func (f *fakeBroker) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) Publish(_ context.Context, destination string, headers map[string]string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{destination, headers, body})
	return nil
}

func TestPublishFansOutToBothDestinations(t *testing.T) {
	b := &fakeBroker{connected: true}
	p := New(b, Config{NotifyTopic: "notify", LoggerTopic: "logger"}, zap.NewNop().Sugar())

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	alert := &model.Alert{ID: "a1", Type: "alert", CreateTime: at, ReceiveTime: at, LastReceiveTime: at}

	p.Publish(context.Background(), alert)

	require.Len(t, b.published, 2)
	assert.Equal(t, "notify", b.published[0].destination)
	assert.Equal(t, "logger", b.published[1].destination)
	for _, pub := range b.published {
		assert.Equal(t, "a1", pub.headers["correlation-id"])
		assert.Equal(t, "alert", pub.headers["type"])
	}
}

func TestPublishEncodesMillisecondTimestamps(t *testing.T) {
	b := &fakeBroker{connected: true}
	p := New(b, Config{NotifyTopic: "notify", LoggerTopic: "logger"}, zap.NewNop().Sugar())

	at := time.Date(2024, 1, 1, 0, 0, 0, 123000000, time.UTC)
	alert := &model.Alert{ID: "a1", CreateTime: at, ReceiveTime: at, LastReceiveTime: at}
	p.Publish(context.Background(), alert)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b.published[0].body, &decoded))
	assert.Equal(t, "2024-01-01T00:00:00.123Z", decoded["createTime"])
}

func TestPublishWaitsForConnection(t *testing.T) {
	b := &fakeBroker{connected: false}
	p := New(b, Config{NotifyTopic: "notify", LoggerTopic: "logger"}, zap.NewNop().Sugar())
	p.connectPoll = time.Millisecond

	go func() {
		time.Sleep(5 * time.Millisecond)
		b.mu.Lock()
		b.connected = true
		b.mu.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		p.Publish(context.Background(), &model.Alert{ID: "a1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish did not proceed once connected")
	}
	assert.Len(t, b.published, 2)
}
