package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Timestamp accepts either an RFC 3339 string or epoch milliseconds, which is
// what browser detectors send (new Date().toISOString() or Date.now()).
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", raw, err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	var millis json.Number
	if err := json.Unmarshal(data, &millis); err != nil {
		return fmt.Errorf("invalid timestamp %s", string(data))
	}
	ms, err := millis.Int64()
	if err != nil {
		f, ferr := millis.Float64()
		if ferr != nil {
			return fmt.Errorf("invalid timestamp %s", string(data))
		}
		ms = int64(f)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// CreateSessionRequest is the body of POST /sessions. candidateName and
// startTime are the field names used by the original browser client.
type CreateSessionRequest struct {
	SubjectLabel  string    `json:"subjectLabel"`
	CandidateName string    `json:"candidateName,omitempty"`
	StartedAt     Timestamp `json:"startedAt"`
	StartTime     Timestamp `json:"startTime,omitempty"`
}

func (r CreateSessionRequest) Label() string {
	if strings.TrimSpace(r.SubjectLabel) != "" {
		return r.SubjectLabel
	}
	return r.CandidateName
}

func (r CreateSessionRequest) Start() time.Time {
	if !r.StartedAt.IsZero() {
		return r.StartedAt.Time
	}
	return r.StartTime.Time
}

type CreateSessionResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// AppendEventRequest is the body of POST /sessions/{id}/events. The aliases
// type/timestamp/sessionTime/data are the legacy detector field names.
type AppendEventRequest struct {
	Kind              string         `json:"kind"`
	Type              string         `json:"type,omitempty"`
	Severity          string         `json:"severity"`
	Message           string         `json:"message"`
	OccurredAt        Timestamp      `json:"occurredAt"`
	Timestamp         Timestamp      `json:"timestamp,omitempty"`
	SessionRelativeMs *int64         `json:"sessionRelativeMs,omitempty"`
	SessionTime       *int64         `json:"sessionTime,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`
	Data              map[string]any `json:"data,omitempty"`
}

// ToEvent validates the request and maps it onto an Event.
func (r AppendEventRequest) ToEvent() (Event, error) {
	rawKind := r.Kind
	if rawKind == "" {
		rawKind = r.Type
	}
	if strings.TrimSpace(rawKind) == "" {
		return Event{}, InvalidArgument("event kind is required")
	}
	kind, ok := ParseEventKind(rawKind)
	if !ok {
		return Event{}, InvalidArgument("unknown event kind %q", rawKind)
	}
	severity, ok := ParseSeverity(r.Severity)
	if !ok {
		return Event{}, InvalidArgument("unknown severity %q", r.Severity)
	}

	occurredAt := r.OccurredAt.Time
	if occurredAt.IsZero() {
		occurredAt = r.Timestamp.Time
	}
	var relative int64
	switch {
	case r.SessionRelativeMs != nil:
		relative = *r.SessionRelativeMs
	case r.SessionTime != nil:
		relative = *r.SessionTime
	}
	payload := r.Payload
	if payload == nil {
		payload = r.Data
	}

	return Event{
		Kind:              kind,
		Severity:          severity,
		Message:           r.Message,
		OccurredAt:        occurredAt,
		SessionRelativeMs: relative,
		Payload:           payload,
	}, nil
}

type AppendEventResponse struct {
	Ack        bool      `json:"ack"`
	SessionID  string    `json:"sessionId"`
	EventCount int       `json:"eventCount"`
	ReceivedAt time.Time `json:"receivedAt"`
	Message    string    `json:"message"`
}

// EndSessionRequest is the body of PUT /sessions/{id}/end and
// PUT /sessions/{id}/terminate. focusData/objectData are accepted for client
// compatibility and never read; aggregates are always recomputed.
type EndSessionRequest struct {
	EndedAt    Timestamp       `json:"endedAt"`
	EndTime    Timestamp       `json:"endTime,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	FocusData  json.RawMessage `json:"focusData,omitempty"`
	ObjectData json.RawMessage `json:"objectData,omitempty"`
}

func (r EndSessionRequest) End() time.Time {
	if !r.EndedAt.IsZero() {
		return r.EndedAt.Time
	}
	return r.EndTime.Time
}

type EndSessionResponse struct {
	Message        string        `json:"message"`
	Status         SessionStatus `json:"status"`
	IntegrityScore int           `json:"integrityScore"`
	DurationMs     int64         `json:"durationMs"`
	PolicyVersion  string        `json:"policyVersion"`
}

type LiveScoreResponse struct {
	SessionID      string        `json:"sessionId"`
	Status         SessionStatus `json:"status"`
	IntegrityScore int           `json:"integrityScore"`
	EventCount     int           `json:"eventCount"`
	Final          bool          `json:"final"`
	PolicyVersion  string        `json:"policyVersion"`
}

// uniform error payload
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
