// Package events defines the EventSink boundary and the concrete sinks the
// coordinator can fan lifecycle/threat/statistics events out to: an
// always-on stdlib-log sink, and optional NATS JetStream and ClickHouse
// sinks.
package events

import (
	"time"
)

// Kind tags an Event's payload shape.
type Kind string

const (
	KindStateChanged       Kind = "StateChanged"
	KindThreatDetected     Kind = "ThreatDetected"
	KindStatisticsSnapshot Kind = "StatisticsSnapshot"
	KindError              Kind = "Error"
)

// ThreatEvent is the outbound record emitted when the classifier's
// probability crosses the configured threshold (spec.md §3).
type ThreatEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	SrcIP       string    `json:"src_ip"`
	DstIP       string    `json:"dst_ip"`
	SrcPort     uint16    `json:"src_port"`
	DstPort     uint16    `json:"dst_port"`
	Probability float64   `json:"probability"`
	Features    [20]float64 `json:"feature_snapshot"`

	// SrcGeo/DstGeo are populated only at the sink boundary by the
	// optional enrich package; the in-core ThreatEvent never carries
	// them (SPEC_FULL.md §3).
	SrcGeo *GeoInfo `json:"src_geo,omitempty"`
	DstGeo *GeoInfo `json:"dst_geo,omitempty"`
}

// GeoInfo is the optional GeoIP enrichment attached by internal/enrich.
type GeoInfo struct {
	Country string `json:"country"`
	City    string `json:"city"`
	ASN     uint   `json:"asn"`
}

// Statistics mirrors DetectionStatistics (spec.md §3).
type Statistics struct {
	PacketsCaptured     uint64  `json:"packets_captured"`
	PacketsDropped      uint64  `json:"packets_dropped"`
	FeaturesExtracted   uint64  `json:"features_extracted"`
	PredictionsMade     uint64  `json:"predictions_made"`
	ThreatsDetected     uint64  `json:"threats_detected"`
	ProcessingErrors    uint64  `json:"processing_errors"`
	QueueHighWatermark  uint64  `json:"queue_high_watermark"`
	RuntimeSeconds      float64 `json:"runtime_seconds"`
}

// Event is a tagged record with a stable field set per spec.md §6.
type Event struct {
	Type      Kind        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	ID        string      `json:"id"`
	State     *StateChange `json:"state,omitempty"`
	Threat    *ThreatEvent `json:"threat,omitempty"`
	Stats     *Statistics  `json:"stats,omitempty"`
	ErrorKind string       `json:"error_kind,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// StateChange describes a coordinator lifecycle transition.
type StateChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func StateChangedEvent(from, to string) Event {
	return Event{Type: KindStateChanged, Timestamp: nowUTC(), ID: generateID(), State: &StateChange{From: from, To: to}}
}

func ThreatDetectedEvent(t ThreatEvent) Event {
	return Event{Type: KindThreatDetected, Timestamp: nowUTC(), ID: generateID(), Threat: &t}
}

func StatisticsSnapshotEvent(s Statistics) Event {
	return Event{Type: KindStatisticsSnapshot, Timestamp: nowUTC(), ID: generateID(), Stats: &s}
}

func ErrorEvent(kind, message string) Event {
	return Event{Type: KindError, Timestamp: nowUTC(), ID: generateID(), ErrorKind: kind, Message: message}
}

// Sink is the single-subscriber EventSink capability: it must not block.
// The coordinator enforces a 50ms delivery deadline around every Publish
// call via Fanout, so a Sink that can't keep up simply misses events.
type Sink interface {
	Publish(Event) error
}
