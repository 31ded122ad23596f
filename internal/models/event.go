package models

import (
	"strings"
	"time"
)

// EventKind is the closed taxonomy of detections the service accepts.
type EventKind string

const (
	KindFocusLost        EventKind = "focus_lost"
	KindNoFace           EventKind = "no_face"
	KindMultipleFaces    EventKind = "multiple_faces"
	KindSuspiciousObject EventKind = "suspicious_object"
	KindEyeClosure       EventKind = "eye_closure"
)

// EventKinds lists every accepted kind in a stable order.
var EventKinds = []EventKind{
	KindFocusLost,
	KindNoFace,
	KindMultipleFaces,
	KindSuspiciousObject,
	KindEyeClosure,
}

func (k EventKind) Valid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseEventKind normalizes the detector spelling ("FOCUS_LOST", "focus_lost")
// into an EventKind. ok is false when the kind is outside the taxonomy.
func ParseEventKind(raw string) (kind EventKind, ok bool) {
	kind = EventKind(strings.ToLower(strings.TrimSpace(raw)))
	return kind, kind.Valid()
}

// Severity is advisory metadata set by the detector; scoring never reads it.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

func ParseSeverity(raw string) (Severity, bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case "":
		return SeverityInfo, true
	case SeverityInfo, SeverityWarning, SeverityDanger:
		return s, true
	default:
		return s, false
	}
}

// Event is one immutable fact observed during a session.
type Event struct {
	Kind              EventKind      `json:"kind" bson:"kind"`
	Severity          Severity       `json:"severity" bson:"severity"`
	Message           string         `json:"message" bson:"message"`
	OccurredAt        time.Time      `json:"occurredAt" bson:"occurredAt"`
	SessionRelativeMs int64          `json:"sessionRelativeMs" bson:"sessionRelativeMs"`
	Payload           map[string]any `json:"payload,omitempty" bson:"payload,omitempty"`
	ReceivedAt        time.Time      `json:"receivedAt" bson:"receivedAt"`
}

// PayloadString returns payload[key] when it holds a non-empty string.
func (e Event) PayloadString(key string) (string, bool) {
	v, ok := e.Payload[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// PayloadNumber returns payload[key] as float64 for any numeric encoding the
// JSON decoder or a document store may have produced.
func (e Event) PayloadNumber(key string) (float64, bool) {
	switch v := e.Payload[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Clone deep-copies the payload so snapshots never alias stored state.
func (e Event) Clone() Event {
	out := e
	if e.Payload != nil {
		out.Payload = clonePayload(e.Payload)
	}
	return out
}

func clonePayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clonePayload(t)
	case []any:
		cp := make([]any, len(t))
		for i, item := range t {
			cp[i] = cloneValue(item)
		}
		return cp
	default:
		return v
	}
}
