// Package model defines the canonical alert, heartbeat, and management-stat
// document shapes persisted by the correlation server, plus the severity and
// status enums that drive the status machine.
package model

import "time"

// EventHistoryEntry is an append-only record of an inbound event fold
// (spec.md §3 "event records"). History never edits existing entries.
type EventHistoryEntry struct {
	CreateTime  time.Time `json:"createTime"`
	ReceiveTime time.Time `json:"receiveTime"`
	Severity    Severity  `json:"severity"`
	SeverityCode int      `json:"severityCode"`
	Event       string    `json:"event"`
	Value       string    `json:"value"`
	Text        string    `json:"text"`
	ID          string    `json:"id"`
}

// StatusHistoryEntry is an append-only record of a status transition
// (spec.md §3 "status records").
type StatusHistoryEntry struct {
	Status     Status    `json:"status"`
	UpdateTime time.Time `json:"updateTime"`
}

// HistoryEntry is a tagged union of the two history record shapes so a
// single ordered slice can carry both kinds without losing arrival order.
type HistoryEntry struct {
	Event  *EventHistoryEntry  `json:"event,omitempty"`
	Status *StatusHistoryEntry `json:"status,omitempty"`
}

// Alert is the canonical, persisted alert document (spec.md §3).
type Alert struct {
	ID     string `json:"id"`
	Type   string `json:"type"`

	Environment []string `json:"environment"`
	Resource    string   `json:"resource"`
	Event       string   `json:"event"`

	Severity     Severity `json:"severity"`
	SeverityCode int      `json:"severityCode"`
	PreviousSeverity Severity `json:"previousSeverity"`

	Service          []string `json:"service"`
	Group            string   `json:"group"`
	Value            string   `json:"value"`
	Text             string   `json:"text"`
	Summary          string   `json:"summary"`
	Origin           string   `json:"origin"`
	Tags             []string `json:"tags"`
	CorrelatedEvents []string `json:"correlatedEvents,omitempty"`
	ThresholdInfo    string   `json:"thresholdInfo,omitempty"`
	MoreInfo         string   `json:"moreInfo,omitempty"`
	Graphs           []string `json:"graphs,omitempty"`

	// Note carries an operator annotation attached by out-of-band ack/close
	// tooling (recovered from original_source/bin/alerta.py). The core never
	// writes it but must never drop it on round-trip.
	Note *string `json:"note,omitempty"`

	CreateTime      time.Time  `json:"createTime"`
	ReceiveTime     time.Time  `json:"receiveTime"`
	LastReceiveTime time.Time  `json:"lastReceiveTime"`
	ExpireTime      *time.Time `json:"expireTime,omitempty"`

	Status Status `json:"status"`

	DuplicateCount int  `json:"duplicateCount"`
	Repeat         bool `json:"repeat"`

	LastReceiveID string `json:"lastReceiveId"`

	History []HistoryEntry `json:"history"`

	// Version is the store's optimistic-concurrency token for this row. It
	// is not part of the persisted document (json:"-") — the store tracks it
	// in its own column and stamps it onto the alert on read, so a
	// read-modify-write cycle can detect whether another worker won the row
	// in between.
	Version int64 `json:"-"`
}

// AppendEvent appends an event-history entry built from the alert's current
// fields. History grows monotonically; existing entries are never edited.
func (a *Alert) AppendEvent() {
	a.History = append(a.History, HistoryEntry{Event: &EventHistoryEntry{
		CreateTime:   a.CreateTime,
		ReceiveTime:  a.ReceiveTime,
		Severity:     a.Severity,
		SeverityCode: a.SeverityCode,
		Event:        a.Event,
		Value:        a.Value,
		Text:         a.Text,
		ID:           a.LastReceiveID,
	}})
}

// AppendStatus appends a status-history entry.
func (a *Alert) AppendStatus(status Status, at time.Time) {
	a.History = append(a.History, HistoryEntry{Status: &StatusHistoryEntry{
		Status:     status,
		UpdateTime: at,
	}})
}

// Key is the identity tuple for exact (environment, resource, event)
// matching. Environment is joined with a separator unlikely to appear in a
// single environment name, so two alerts with different environment lists
// never collide.
type Key struct {
	Environment string
	Resource    string
	Event       string
}

// KeyOf builds the natural identity key for the alert (spec.md §3 "Identity
// rule"). The environment list is normalized (sorted, joined) so key
// equality does not depend on inbound list order.
func KeyOf(environment []string, resource, event string) Key {
	return Key{Environment: joinSorted(environment), Resource: resource, Event: event}
}

func (a *Alert) Key() Key {
	return KeyOf(a.Environment, a.Resource, a.Event)
}

func joinSorted(ss []string) string {
	cp := append([]string(nil), ss...)
	for i := 1; i < len(cp); i++ {
		for j := i; j > 0 && cp[j-1] > cp[j]; j-- {
			cp[j-1], cp[j] = cp[j], cp[j-1]
		}
	}
	out := ""
	for i, s := range cp {
		if i > 0 {
			out += "\x1f"
		}
		out += s
	}
	return out
}

// MatchesEvent reports whether the incoming event name correlates with this
// alert's event, per spec.md's Identity rule: exact match, or the incoming
// event appears in this alert's correlatedEvents, or this alert's event
// appears in the incoming alert's correlatedEvents.
func (a *Alert) MatchesEvent(incomingEvent string, incomingCorrelated []string) bool {
	if a.Event == incomingEvent {
		return true
	}
	for _, e := range a.CorrelatedEvents {
		if e == incomingEvent {
			return true
		}
	}
	for _, e := range incomingCorrelated {
		if e == a.Event {
			return true
		}
	}
	return false
}
