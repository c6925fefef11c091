package model

import (
	"encoding/json"
	"fmt"
)

// InboundMessage is the wire shape accepted on the "alerts" queue
// (spec.md §6). Timestamps are decoded as strings because the wire format
// is a fixed ISO-8601 layout, not Go's default RFC3339Nano.
type InboundMessage struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	CreateTime string `json:"createTime"`

	// Origin is required on every alert and heartbeat message.
	Origin string `json:"origin"`
	// Version is heartbeat-only.
	Version string `json:"version"`

	Environment []string `json:"environment"`
	Resource    string   `json:"resource"`
	Event       string   `json:"event"`
	Severity    string   `json:"severity"`

	Group         string   `json:"group"`
	Value         string   `json:"value"`
	Text          string   `json:"text"`
	Summary       string   `json:"summary"`
	Service       []string `json:"service"`
	Tags          []string `json:"tags"`
	ThresholdInfo string   `json:"thresholdInfo"`

	CorrelatedEvents []string `json:"correlatedEvents,omitempty"`
	Timeout          *int64   `json:"timeout,omitempty"`
	MoreInfo         string   `json:"moreInfo,omitempty"`
	Graphs           []string `json:"graphs,omitempty"`
}

// IsHeartbeat reports whether this inbound message is a heartbeat, per
// spec.md §4.3.
func (m *InboundMessage) IsHeartbeat() bool {
	return m.Type == "heartbeat"
}

// DecodeInbound decodes a raw broker message body. Decode failures are
// returned so the caller can log-and-drop per spec.md §7.
func DecodeInbound(body []byte) (*InboundMessage, error) {
	var m InboundMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode inbound message: %w", err)
	}
	return &m, nil
}

// ToAlert builds a fresh Alert struct from the inbound fields, leaving
// createTime/receiveTime/expireTime/status/duplicateCount etc. for the
// caller (ingress dispatcher, rule engine, dedup engine) to stamp.
func (m *InboundMessage) ToAlert() *Alert {
	return &Alert{
		ID:               m.ID,
		Type:             m.Type,
		Environment:      m.Environment,
		Resource:         m.Resource,
		Event:            m.Event,
		Origin:           m.Origin,
		Severity:         Severity(m.Severity),
		SeverityCode:     Severity(m.Severity).Code(),
		Group:            m.Group,
		Value:            m.Value,
		Text:             m.Text,
		Summary:          m.Summary,
		Service:          m.Service,
		Tags:             m.Tags,
		ThresholdInfo:    m.ThresholdInfo,
		CorrelatedEvents: m.CorrelatedEvents,
		MoreInfo:         m.MoreInfo,
		Graphs:           m.Graphs,
		LastReceiveID:    m.ID,
	}
}
