package model

import "time"

// Heartbeat is a liveness record keyed by origin (spec.md §3). Upserted on
// every inbound heartbeat message and on every completed alert processing
// (self-heartbeat).
type Heartbeat struct {
	Origin      string    `json:"origin"`
	Version     string    `json:"version"`
	CreateTime  time.Time `json:"createTime"`
	ReceiveTime time.Time `json:"receiveTime"`
}

// SelfOrigin builds the server's own heartbeat origin, "alerta/<host>"
// (spec.md §4.8, recovered verbatim from original_source/bin/alerta.py).
func SelfOrigin(host string) string {
	return "alerta/" + host
}
