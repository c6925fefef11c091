package model

// StatKind distinguishes the two management-stat shapes spec.md §3 defines.
type StatKind string

const (
	StatKindTimer StatKind = "timer"
	StatKindGauge StatKind = "gauge"
)

// Stat is a management stat identified by (group, name, type) (spec.md §3).
// The store keys the stats table by (group, name) only, so two stats that
// differ only in type overwrite each other. Timer stats use
// Count/TotalTime; gauge stats use Value.
type Stat struct {
	Group       string   `json:"group"`
	Name        string   `json:"name"`
	Kind        StatKind `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`

	Count     int64 `json:"count,omitempty"`
	TotalTime int64 `json:"totalTime,omitempty"`

	Value float64 `json:"value,omitempty"`
}

// Well-known stat identities (spec.md §4.8).
const (
	StatGroupAlerts = "alerts"

	StatNameProcessed = "processed"
	StatNameReceived  = "received"
	StatNameQueue     = "queue"
)
