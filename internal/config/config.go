// Package config loads server configuration from environment variables
// with sane defaults, the way the teacher's cmd/nnc entrypoint builds its
// runtime configuration from flags/env before wiring components.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ServerConfig configures cmd/alertserver.
type ServerConfig struct {
	Brokers       []string
	BrokerGroupID string

	AlertsTopic string
	NotifyTopic string
	LoggerTopic string

	StorePath string
	RuleFile  string

	WorkerCount int
	QueueBuffer int

	LockFilePath string
	Hostname     string
}

// IndexerConfig configures cmd/alertindexer.
type IndexerConfig struct {
	Brokers       []string
	BrokerGroupID string
	LoggerTopic   string

	IndexBaseURL string
	LockFilePath string
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n, nil
}

func getEnvList(key, fallback string) []string {
	v := getEnv(key, fallback)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadServerConfig reads the alert server's configuration from the
// environment.
func LoadServerConfig() (*ServerConfig, error) {
	workerCount, err := getEnvInt("ALERTFLOW_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	queueBuffer, err := getEnvInt("ALERTFLOW_QUEUE_BUFFER", 1024)
	if err != nil {
		return nil, err
	}

	hostname := os.Getenv("ALERTFLOW_HOSTNAME")
	if hostname == "" {
		hostname, _ = os.Hostname()
	}

	return &ServerConfig{
		Brokers:       getEnvList("ALERTFLOW_BROKERS", "localhost:9092"),
		BrokerGroupID: getEnv("ALERTFLOW_BROKER_GROUP", "alertflow-server"),
		AlertsTopic:   getEnv("ALERTFLOW_ALERTS_TOPIC", "alerts"),
		NotifyTopic:   getEnv("ALERTFLOW_NOTIFY_TOPIC", "notify"),
		LoggerTopic:   getEnv("ALERTFLOW_LOGGER_TOPIC", "logger"),
		StorePath:     getEnv("ALERTFLOW_STORE_PATH", "/var/lib/alertflow/alerts.db"),
		RuleFile:      getEnv("ALERTFLOW_RULE_FILE", "/etc/alertflow/rules.yaml"),
		WorkerCount:   workerCount,
		QueueBuffer:   queueBuffer,
		LockFilePath:  getEnv("ALERTFLOW_LOCK_FILE", "/var/run/alertflow-server.lock"),
		Hostname:      hostname,
	}, nil
}

// LoadIndexerConfig reads the indexer's configuration from the environment.
func LoadIndexerConfig() (*IndexerConfig, error) {
	return &IndexerConfig{
		Brokers:       getEnvList("ALERTFLOW_BROKERS", "localhost:9092"),
		BrokerGroupID: getEnv("ALERTFLOW_INDEXER_GROUP", "alertflow-indexer"),
		LoggerTopic:   getEnv("ALERTFLOW_LOGGER_TOPIC", "logger"),
		IndexBaseURL:  getEnv("ALERTFLOW_INDEX_BASE_URL", "http://localhost:9200/alertflow"),
		LockFilePath:  getEnv("ALERTFLOW_LOCK_FILE", "/var/run/alertflow-indexer.lock"),
	}, nil
}
