package models

import "time"

// SessionStatus describes where a session is in its lifecycle.
// active is the only non-terminal state.
type SessionStatus string

const (
	StatusActive     SessionStatus = "active"
	StatusCompleted  SessionStatus = "completed"
	StatusTerminated SessionStatus = "terminated"
)

func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusTerminated
}

// FocusAggregate counts attention-related detections over the whole history.
type FocusAggregate struct {
	TotalFocusLoss         int   `json:"totalFocusLoss" bson:"totalFocusLoss"`
	MaxFocusLossDurationMs int64 `json:"maxFocusLossDurationMs" bson:"maxFocusLossDurationMs"`
	NoFaceInstances        int   `json:"noFaceInstances" bson:"noFaceInstances"`
	MultipleFaceInstances  int   `json:"multipleFaceInstances" bson:"multipleFaceInstances"`
	EyeClosureInstances    int   `json:"eyeClosureInstances" bson:"eyeClosureInstances"`
}

// ObjectAggregate summarises suspicious_object detections.
type ObjectAggregate struct {
	SuspiciousObjectsDetected []string `json:"suspiciousObjectsDetected" bson:"suspiciousObjectsDetected"`
	TotalSuspiciousDetections int      `json:"totalSuspiciousDetections" bson:"totalSuspiciousDetections"`
}

// Session is one proctored interview. Aggregates, score and end fields are
// only populated once the session reaches a terminal status.
type Session struct {
	ID                string           `json:"id" bson:"_id"`
	SubjectLabel      string           `json:"subjectLabel" bson:"subjectLabel"`
	StartedAt         time.Time        `json:"startedAt" bson:"startedAt"`
	EndedAt           *time.Time       `json:"endedAt,omitempty" bson:"endedAt,omitempty"`
	DurationMs        *int64           `json:"durationMs,omitempty" bson:"durationMs,omitempty"`
	Status            SessionStatus    `json:"status" bson:"status"`
	TerminationReason string           `json:"terminationReason,omitempty" bson:"terminationReason,omitempty"`
	Events            []Event          `json:"events" bson:"events"`
	EventCount        int              `json:"eventCount" bson:"eventCount"`
	LastEventAt       *time.Time       `json:"lastEventAt,omitempty" bson:"lastEventAt,omitempty"`
	FocusAggregate    *FocusAggregate  `json:"focusAggregate,omitempty" bson:"focusAggregate,omitempty"`
	ObjectAggregate   *ObjectAggregate `json:"objectAggregate,omitempty" bson:"objectAggregate,omitempty"`
	IntegrityScore    *int             `json:"integrityScore,omitempty" bson:"integrityScore,omitempty"`
	PolicyVersion     string           `json:"policyVersion,omitempty" bson:"policyVersion,omitempty"`
	CreatedAt         time.Time        `json:"createdAt" bson:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt" bson:"updatedAt"`
}

// LastActivity is the most recent moment the session saw traffic.
func (s *Session) LastActivity() time.Time {
	if s.LastEventAt != nil && s.LastEventAt.After(s.StartedAt) {
		return *s.LastEventAt
	}
	return s.StartedAt
}

// Clone returns a deep copy safe to hand to callers.
func (s *Session) Clone() Session {
	out := *s
	if s.Events != nil {
		out.Events = make([]Event, len(s.Events))
		for i, e := range s.Events {
			out.Events[i] = e.Clone()
		}
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	if s.DurationMs != nil {
		d := *s.DurationMs
		out.DurationMs = &d
	}
	if s.LastEventAt != nil {
		t := *s.LastEventAt
		out.LastEventAt = &t
	}
	if s.FocusAggregate != nil {
		f := *s.FocusAggregate
		out.FocusAggregate = &f
	}
	if s.ObjectAggregate != nil {
		o := *s.ObjectAggregate
		if s.ObjectAggregate.SuspiciousObjectsDetected != nil {
			o.SuspiciousObjectsDetected = make([]string, len(s.ObjectAggregate.SuspiciousObjectsDetected))
			copy(o.SuspiciousObjectsDetected, s.ObjectAggregate.SuspiciousObjectsDetected)
		}
		out.ObjectAggregate = &o
	}
	if s.IntegrityScore != nil {
		score := *s.IntegrityScore
		out.IntegrityScore = &score
	}
	return out
}
