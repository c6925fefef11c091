// Package indexer implements the Indexer (spec.md §4.9, component I): an
// independent process that subscribes to the logger queue and POSTs each
// alert, reshaped into the search-index record schema, to a search
// backend. The HTTP POST pattern is grounded on the teacher's
// internal/notifications/webhook.go (WebhookChannel.Send): build JSON
// payload, http.NewRequestWithContext, set Content-Type, client.Do, check
// the 2xx range. By default each message gets a single POST (MaxAttempts
// 1); a failure is logged and the message is dropped. A larger MaxAttempts
// spaces the extra attempts with a cenkalti/backoff/v4 exponential backoff.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/opsfabric/alertflow/internal/apperr"
	"github.com/opsfabric/alertflow/internal/model"
)

// Record is the search-index document schema (spec.md §4.9). Field order
// and the literal "none" tags fallback are preserved verbatim from
// original_source for search-backend compatibility.
type Record struct {
	Message    string       `json:"@message"`
	Source     string       `json:"@source"`
	SourceHost string       `json:"@source_host"`
	SourcePath string       `json:"@source_path"`
	Tags       any          `json:"@tags"`
	Timestamp  string       `json:"@timestamp"`
	Type       string       `json:"@type"`
	Fields     *model.Alert `json:"@fields"`
}

// ToRecord builds the index record for alert.
func ToRecord(alert *model.Alert) Record {
	var tags any = alert.Tags
	if len(alert.Tags) == 0 {
		tags = "none"
	}
	return Record{
		Message:    alert.Summary,
		Source:     alert.Resource,
		SourceHost: "not_used",
		SourcePath: alert.Origin,
		Tags:       tags,
		Timestamp:  model.FormatTime(alert.LastReceiveTime),
		Type:       alert.Type,
		Fields:     alert,
	}
}

// Config configures the indexer's HTTP client.
type Config struct {
	// IndexBaseURL is the search backend root; records POST to
	// <IndexBaseURL>/<alert.type>.
	IndexBaseURL string
	Timeout      time.Duration
	MaxAttempts  uint64
	Logger       *zap.SugaredLogger
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return cfg
}

// Indexer posts index records to the search backend.
type Indexer struct {
	cfg    Config
	client *http.Client
}

// New builds an Indexer.
func New(cfg Config) *Indexer {
	cfg = cfg.withDefaults()
	return &Indexer{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Handle is the broker.Handler invoked for each message on the logger
// queue: decode the alert, build the index record, and POST it. A failure
// is logged and swallowed — the broker ack proceeds regardless (spec.md
// §4.9: "loss on failure is tolerated by design").
func (idx *Indexer) Handle(ctx context.Context, body []byte) error {
	var alert model.Alert
	if err := json.Unmarshal(body, &alert); err != nil {
		idx.cfg.Logger.Errorw("indexer: failed to decode alert", "error", err)
		return nil
	}

	record := ToRecord(&alert)
	if err := idx.postWithRetry(ctx, record); err != nil {
		idx.cfg.Logger.Errorw("indexer: failed to post record after retries", "id", alert.ID, "error", err)
	}
	return nil
}

func (idx *Indexer) postWithRetry(ctx context.Context, record Record) error {
	// WithMaxRetries counts retries after the first attempt.
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), idx.cfg.MaxAttempts-1)
	return backoff.Retry(func() error {
		return idx.post(ctx, record)
	}, backoff.WithContext(bo, ctx))
}

func (idx *Indexer) post(ctx context.Context, record Record) error {
	body, err := json.Marshal(record)
	if err != nil {
		return backoff.Permanent(apperr.New(apperr.CodeIndexerHTTPFailed, "encode index record failed", err))
	}

	url := fmt.Sprintf("%s/%s", idx.cfg.IndexBaseURL, record.Type)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(apperr.New(apperr.CodeIndexerHTTPFailed, "build index request failed", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := idx.client.Do(req)
	if err != nil {
		return apperr.New(apperr.CodeIndexerHTTPFailed, "index request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.New(apperr.CodeIndexerHTTPFailed, fmt.Sprintf("index backend returned status %d", resp.StatusCode), nil)
	}
	return nil
}
