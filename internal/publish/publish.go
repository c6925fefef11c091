// Package publish implements the Publisher (spec.md §4.7, component G):
// serializing a processed alert and fanning it out to the notify topic and
// the logger queue, via the broker client built in internal/broker.
package publish

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/opsfabric/alertflow/internal/model"
)

// Broker is the subset of *broker.Client the publisher needs.
type Broker interface {
	IsConnected() bool
	Publish(ctx context.Context, destination string, headers map[string]string, body []byte) error
}

// Config names the two publish destinations.
type Config struct {
	NotifyTopic string
	LoggerTopic string
}

// Publisher fans a processed alert out to both destinations.
type Publisher struct {
	broker Broker
	cfg    Config
	logger *zap.SugaredLogger

	// connectPoll is the spin-wait interval before each publish (spec.md
	// §4.7: "spin-waits on isConnected() with 1s pauses"). Overridable for
	// tests so they don't actually sleep a full second.
	connectPoll time.Duration
}

// New builds a Publisher.
func New(broker Broker, cfg Config, logger *zap.SugaredLogger) *Publisher {
	return &Publisher{broker: broker, cfg: cfg, logger: logger, connectPoll: time.Second}
}

// wireAlert is the JSON shape published on the wire: identical to
// model.Alert except the four top-level timestamps (createTime,
// receiveTime, lastReceiveTime, expireTime) are rendered as the fixed
// millisecond ISO-8601 layout rather than Go's default RFC3339Nano
// (spec.md §4.7). Timestamps inside history entries keep the RFC3339Nano
// encoding.
type wireAlert struct {
	model.Alert
	CreateTime      string  `json:"createTime"`
	ReceiveTime     string  `json:"receiveTime"`
	LastReceiveTime string  `json:"lastReceiveTime"`
	ExpireTime      *string `json:"expireTime,omitempty"`
}

func toWire(alert *model.Alert) wireAlert {
	w := wireAlert{
		Alert:           *alert,
		CreateTime:      model.FormatTime(alert.CreateTime),
		ReceiveTime:     model.FormatTime(alert.ReceiveTime),
		LastReceiveTime: model.FormatTime(alert.LastReceiveTime),
	}
	if alert.ExpireTime != nil {
		s := model.FormatTime(*alert.ExpireTime)
		w.ExpireTime = &s
	}
	return w
}

// Publish serializes alert and emits it to both the notify topic and the
// logger queue, with headers `type` and `correlation-id` (spec.md §4.7). A
// publish failure is logged and does not return an error that would roll
// back the persistence already committed by the correlation engine.
func (p *Publisher) Publish(ctx context.Context, alert *model.Alert) {
	body, err := json.Marshal(toWire(alert))
	if err != nil {
		p.logger.Errorw("failed to encode alert for publish", "id", alert.ID, "error", err)
		return
	}

	headers := map[string]string{
		"type":           alert.Type,
		"correlation-id": alert.ID,
	}

	p.publishTo(ctx, p.cfg.NotifyTopic, headers, body, alert.ID)
	p.publishTo(ctx, p.cfg.LoggerTopic, headers, body, alert.ID)
}

func (p *Publisher) publishTo(ctx context.Context, destination string, headers map[string]string, body []byte, alertID string) {
	p.waitForConnection(ctx)
	if err := p.broker.Publish(ctx, destination, headers, body); err != nil {
		p.logger.Errorw("publish failed", "destination", destination, "id", alertID, "error", err)
	}
}

func (p *Publisher) waitForConnection(ctx context.Context) {
	for !p.broker.IsConnected() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.connectPoll):
		}
	}
}
