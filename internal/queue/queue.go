// Package queue implements the internal ingress→worker hand-off (spec.md
// §4.3/§4.4, components C and D). It adapts the teacher's in-process
// EventBus (internal/events/bus.go), which is itself built on
// ThreeDotsLabs/watermill's gochannel pub/sub, trimmed of the teacher's
// priority-batching and replay machinery: this queue is a strict bounded
// FIFO, not a priority queue, because spec.md's queue-length gauge and
// worker-drains-before-next-dequeue semantics assume ordered delivery.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/opsfabric/alertflow/internal/model"
)

const topic = "alerts.internal"

// sentinelHeader marks a shutdown token (spec.md §4.4: "Shutdown is
// signalled by enqueuing N sentinel tokens").
const sentinelHeader = "sentinel"

// Processor handles one dequeued alert end-to-end.
type Processor func(ctx context.Context, alert *model.Alert) error

// Queue is the bounded in-process FIFO between the ingress dispatcher and
// the worker pool.
type Queue struct {
	pubsub *gochannel.GoChannel
	length atomic.Int64
}

// New builds a Queue whose subscriber output channel buffers up to
// bufferSize messages. Enqueue does not block: with
// BlockPublishUntilSubscriberAck off, gochannel's Publish returns without
// waiting for delivery, so when workers fall behind the backlog shows up
// as a growing Len() rather than as backpressure on the broker consumer.
func New(bufferSize int) *Queue {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            int64(bufferSize),
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, watermill.NopLogger{})
	return &Queue{pubsub: pubsub}
}

// Enqueue places alert on the queue (component C's final step).
func (q *Queue) Enqueue(alert *model.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	msg := message.NewMessage(alert.LastReceiveID, payload)
	if err := q.pubsub.Publish(topic, msg); err != nil {
		return err
	}
	q.length.Add(1)
	return nil
}

// Len reports the current queue length, surfaced as the alerts.queue gauge
// (spec.md §4.8).
func (q *Queue) Len() int64 {
	return q.length.Load()
}

// StartWorkers launches n worker goroutines (default 4 per spec.md §4.4)
// competing for messages off a single subscription, each draining the queue
// one alert at a time: "a worker processes one alert end-to-end before
// pulling the next". gochannel's pub/sub fans every message out to *every*
// subscriber, so Subscribe must be called once and the resulting channel
// shared across the n goroutines — channel receives are themselves the
// competing-consumer mechanism, one message delivered to exactly one
// goroutine. Returns once the subscription is established; call Shutdown to
// stop the workers.
func (q *Queue) StartWorkers(ctx context.Context, n int, process Processor) (*WorkerPool, error) {
	messages, err := q.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	pool := &WorkerPool{queue: q}
	for i := 0; i < n; i++ {
		pool.wg.Add(1)
		go pool.run(messages, process)
	}
	return pool, nil
}

// WorkerPool tracks the running workers for shutdown.
type WorkerPool struct {
	queue *Queue
	wg    sync.WaitGroup
}

func (p *WorkerPool) run(messages <-chan *message.Message, process Processor) {
	defer p.wg.Done()
	for msg := range messages {
		if msg.Metadata.Get(sentinelHeader) == "1" {
			msg.Ack()
			return
		}

		// Ack on receipt: gochannel hands a subscription its next message
		// only after the previous one is acked, so acking after process
		// would let just one of the n workers run at a time.
		msg.Ack()

		var alert model.Alert
		if err := json.Unmarshal(msg.Payload, &alert); err != nil {
			p.queue.length.Add(-1)
			continue
		}

		_ = process(context.Background(), &alert)
		p.queue.length.Add(-1)
	}
}

// Shutdown enqueues one sentinel token per worker and waits for all workers
// to drain in-flight work and exit (spec.md §4.4, §5 "Cancellation/shutdown").
// No alert still in the queue at shutdown time is guaranteed to be
// processed.
func (p *WorkerPool) Shutdown(workerCount int) {
	for i := 0; i < workerCount; i++ {
		msg := message.NewMessage(watermill.NewUUID(), nil)
		msg.Metadata.Set(sentinelHeader, "1")
		_ = p.queue.pubsub.Publish(topic, msg)
	}
	p.wg.Wait()
}

// Close releases the underlying pub/sub resources.
func (q *Queue) Close() error {
	return q.pubsub.Close()
}
