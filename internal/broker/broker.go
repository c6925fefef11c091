// Package broker implements the external message-bus client (spec.md §4.1).
// It carries the teacher's in-process EventBus contract (Subscribe, Publish,
// Close — internal/events/bus.go) out to a real multi-endpoint broker, backed
// by segmentio/kafka-go, with cenkalti/backoff/v4 driving Start's retry
// policy: initial backoff 5s, cap 120s, up to 20 attempts. Consumer
// reconnects use a fixed delay (see reconnectLoop).
package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/opsfabric/alertflow/internal/apperr"
)

// Message is the broker envelope: a destination-scoped body plus headers.
// Headers carry "type" and "correlation-id" on outbound alert publishes
// (spec.md §4.7/§6).
type Message struct {
	Destination string
	Headers     map[string]string
	Body        []byte
}

// Handler processes one inbound message. A returned error is logged; the
// broker client does not retry the handler (redelivery, if any, comes from
// broker-side redelivery semantics, not from this client looping).
type Handler func(ctx context.Context, msg Message) error

// Config configures the broker client.
type Config struct {
	// Brokers is the failover list of broker endpoints.
	Brokers []string
	// GroupID is the consumer group used for every Subscribe call.
	GroupID string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    uint64

	Logger *zap.SugaredLogger
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 120 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 20
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return cfg
}

// Client is the broker client (component A). It is safe for concurrent use:
// a single Writer serializes publishes behind the shared kafka-go client
// (spec.md §5 "Shared resources").
type Client struct {
	cfg Config

	writerMu sync.Mutex
	writer   *kafka.Writer

	subsMu      sync.Mutex
	subscribed  []subscription
	connected   atomic.Bool
	closed      atomic.Bool
}

type subscription struct {
	destination string
	handler     Handler
	cancel      context.CancelFunc
}

// New constructs a broker client. It does not connect until Start is called.
func New(cfg Config) *Client {
	c := &Client{cfg: cfg.withDefaults()}
	return c
}

// Start builds the writer for the configured endpoints, retrying with
// exponential backoff (5s initial, 120s cap, 20 attempts by default), and
// marks the client connected on success. It does not contact a broker:
// dial fails only when no endpoints are configured, and an unreachable
// broker surfaces later as a publish or consumer error.
func (c *Client) Start(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.MaxElapsedTime = 0 // bounded by MaxAttempts instead of wall-clock
	// WithMaxRetries counts retries after the first attempt.
	bounded := backoff.WithMaxRetries(bo, c.cfg.MaxAttempts-1)

	err := backoff.Retry(func() error {
		return c.dial()
	}, backoff.WithContext(bounded, ctx))
	if err != nil {
		return apperr.New(apperr.CodeBrokerDisconnected, "failed to connect to broker after retries", err)
	}
	c.connected.Store(true)
	return nil
}

func (c *Client) dial() error {
	c.writerMu.Lock()
	defer c.writerMu.Unlock()

	if len(c.cfg.Brokers) == 0 {
		return fmt.Errorf("no broker endpoints configured")
	}
	c.writer = &kafka.Writer{
		Addr:     kafka.TCP(c.cfg.Brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return nil
}

// IsConnected reports whether the client believes it holds a live
// connection. The publisher (component G) spin-waits on this.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && !c.closed.Load()
}

// Publish writes a message to destination. Publish is synchronous on wire
// commit; it does not confirm subscriber delivery (spec.md §4.1).
func (c *Client) Publish(ctx context.Context, destination string, headers map[string]string, body []byte) error {
	c.writerMu.Lock()
	w := c.writer
	c.writerMu.Unlock()
	if w == nil {
		return apperr.New(apperr.CodeBrokerDisconnected, "publish attempted before connect", nil)
	}

	hdrs := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		hdrs = append(hdrs, kafka.Header{Key: k, Value: []byte(v)})
	}

	err := w.WriteMessages(ctx, kafka.Message{
		Topic:   destination,
		Value:   body,
		Headers: hdrs,
	})
	if err != nil {
		c.connected.Store(false)
		return apperr.New(apperr.CodeBrokerPublishFail, "publish failed for destination "+destination, err)
	}
	return nil
}

// Subscribe registers handler for destination and starts a consumer
// goroutine. On disconnect, the reader's own retry loop (wrapped in
// reconnectLoop) resubscribes with ack mode "auto" — messages are
// considered delivered once the handler returns, with no manual offset
// commit rollback on handler error (spec.md §4.1, §4.3).
func (c *Client) Subscribe(ctx context.Context, destination string, handler Handler) error {
	subCtx, cancel := context.WithCancel(ctx)
	c.subsMu.Lock()
	c.subscribed = append(c.subscribed, subscription{destination: destination, handler: handler, cancel: cancel})
	c.subsMu.Unlock()

	go c.reconnectLoop(subCtx, destination, handler)
	return nil
}

// reconnectLoop runs a consumer for destination, reconnecting whenever the
// reader errors out. Each reconnect waits one randomized InitialBackoff
// interval; unlike Start, the wait does not grow toward MaxBackoff and the
// number of reconnects is not limited.
func (c *Client) reconnectLoop(ctx context.Context, destination string, handler Handler) {
	for {
		if ctx.Err() != nil {
			return
		}
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: c.cfg.Brokers,
			GroupID: c.cfg.GroupID,
			Topic:   destination,
		})

		err := c.consume(ctx, reader, handler)
		_ = reader.Close()
		if ctx.Err() != nil {
			return
		}
		c.connected.Store(false)
		c.cfg.Logger.Warnw("broker consumer disconnected, reconnecting", "destination", destination, "error", err)

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = c.cfg.InitialBackoff
		bo.MaxInterval = c.cfg.MaxBackoff
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) consume(ctx context.Context, reader *kafka.Reader, handler Handler) error {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			return err
		}
		c.connected.Store(true)

		headers := make(map[string]string, len(m.Headers))
		for _, h := range m.Headers {
			headers[h.Key] = string(h.Value)
		}
		if err := handler(ctx, Message{Destination: m.Topic, Headers: headers, Body: m.Value}); err != nil {
			c.cfg.Logger.Errorw("handler returned error", "destination", m.Topic, "error", err)
		}
	}
}

// Close shuts down all subscriptions and the writer.
func (c *Client) Close() error {
	c.closed.Store(true)
	c.subsMu.Lock()
	for _, s := range c.subscribed {
		s.cancel()
	}
	c.subsMu.Unlock()

	c.writerMu.Lock()
	defer c.writerMu.Unlock()
	if c.writer != nil {
		return c.writer.Close()
	}
	return nil
}
