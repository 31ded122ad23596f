// Package lifecycle holds the session state machine:
//
//	active ──► completed   (normal end)
//	   └─────► terminated  (abnormal end, e.g. disconnect or idle timeout)
//
// Terminal states have no outgoing transitions.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"peerprep/proctoring/internal/models"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when finalizing an already terminal
// session. It matches models.ErrInvalidState under errors.Is.
var ErrInvalidTransition = &models.Error{Kind: models.KindInvalidState, Message: "invalid lifecycle transition"}

// overridable in tests
var newID = func() string { return uuid.NewString() }

// New builds an active session with a fresh identifier.
func New(subjectLabel string, startedAt time.Time) (models.Session, error) {
	label := strings.TrimSpace(subjectLabel)
	if label == "" {
		return models.Session{}, models.InvalidArgument("subjectLabel is required")
	}
	if startedAt.IsZero() {
		return models.Session{}, models.InvalidArgument("startedAt is required")
	}

	return models.Session{
		ID:           newID(),
		SubjectLabel: label,
		StartedAt:    startedAt.UTC(),
		Status:       models.StatusActive,
		Events:       []models.Event{},
	}, nil
}

func CanAppendEvent(s *models.Session) bool {
	return s != nil && s.Status == models.StatusActive
}

// Finalize moves s into the terminal status outcome and stamps the end time.
// The input is not modified.
func Finalize(s models.Session, endedAt time.Time, outcome models.SessionStatus, reason string) (models.Session, error) {
	if !outcome.IsTerminal() {
		return s, models.InvalidArgument("cannot finalize a session as %q", outcome)
	}
	if s.Status.IsTerminal() {
		return s, invalidTransition("session %s is already %s", s.ID, s.Status)
	}
	if s.Status != models.StatusActive {
		return s, invalidTransition("session %s has unknown status %q", s.ID, s.Status)
	}
	if endedAt.IsZero() {
		return s, models.InvalidArgument("endedAt is required")
	}
	if endedAt.Before(s.StartedAt) {
		return s, models.InvalidArgument("endedAt %s is before startedAt %s",
			endedAt.UTC().Format(time.RFC3339Nano), s.StartedAt.UTC().Format(time.RFC3339Nano))
	}

	end := endedAt.UTC()
	duration := end.Sub(s.StartedAt).Milliseconds()

	out := s
	out.Status = outcome
	out.EndedAt = &end
	out.DurationMs = &duration
	if outcome == models.StatusTerminated {
		out.TerminationReason = reason
	}
	return out, nil
}

func invalidTransition(format string, args ...any) error {
	return &models.Error{
		Kind:    models.KindInvalidState,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrInvalidTransition,
	}
}
