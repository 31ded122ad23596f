package lifecycle

import (
	"errors"
	"testing"
	"time"

	"peerprep/proctoring/internal/models"
)

var start = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	orig := newID
	newID = func() string { return "fixed-id" }
	defer func() { newID = orig }()

	s, err := New("  Ada Lovelace ", start.In(time.FixedZone("CET", 3600)))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if s.ID != "fixed-id" || s.SubjectLabel != "Ada Lovelace" {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.Status != models.StatusActive || s.StartedAt.Location() != time.UTC || !s.StartedAt.Equal(start) {
		t.Fatalf("unexpected status/start %s %s", s.Status, s.StartedAt)
	}
	if s.Events == nil || len(s.Events) != 0 {
		t.Fatal("expected empty, non-nil event list")
	}
	if s.EndedAt != nil || s.IntegrityScore != nil || s.FocusAggregate != nil {
		t.Fatal("terminal fields must be unset on a new session")
	}
}

func TestNewGeneratesDistinctIDs(t *testing.T) {
	a, _ := New("a", start)
	b, _ := New("b", start)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
}

func TestNewRejectsInvalidInput(t *testing.T) {
	if _, err := New("   ", start); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty label, got %v", err)
	}
	if _, err := New("Ada", time.Time{}); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for zero start, got %v", err)
	}
}

func TestCanAppendEvent(t *testing.T) {
	if CanAppendEvent(nil) {
		t.Fatal("nil session cannot accept events")
	}
	for status, want := range map[models.SessionStatus]bool{
		models.StatusActive:     true,
		models.StatusCompleted:  false,
		models.StatusTerminated: false,
	} {
		if got := CanAppendEvent(&models.Session{Status: status}); got != want {
			t.Fatalf("%s: expected %v, got %v", status, want, got)
		}
	}
}

func TestFinalizeCompleted(t *testing.T) {
	s, _ := New("Ada", start)
	end := start.Add(time.Minute)

	out, err := Finalize(s, end, models.StatusCompleted, "ignored")
	if err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if out.Status != models.StatusCompleted || *out.DurationMs != 60000 || !out.EndedAt.Equal(end) {
		t.Fatalf("unexpected finalized session %+v", out)
	}
	if out.TerminationReason != "" {
		t.Fatal("completed sessions carry no termination reason")
	}
	if s.Status != models.StatusActive || s.EndedAt != nil {
		t.Fatal("input session must not be modified")
	}
}

func TestFinalizeTerminatedKeepsReason(t *testing.T) {
	s, _ := New("Ada", start)
	out, err := Finalize(s, start, models.StatusTerminated, "idle timeout")
	if err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if out.TerminationReason != "idle timeout" || *out.DurationMs != 0 {
		t.Fatalf("unexpected terminated session %+v", out)
	}
}

func TestFinalizeRejectsSecondTransition(t *testing.T) {
	s, _ := New("Ada", start)
	done, _ := Finalize(s, start.Add(time.Second), models.StatusCompleted, "")

	_, err := Finalize(done, start.Add(2*time.Second), models.StatusTerminated, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected invalid transition to match ErrInvalidState, got %v", err)
	}
	if models.PublicMessage(err) == ErrInvalidTransition.Message {
		t.Fatal("expected a message naming the session")
	}
}

func TestFinalizeRejectsBadInput(t *testing.T) {
	s, _ := New("Ada", start)

	cases := map[string]struct {
		end     time.Time
		outcome models.SessionStatus
	}{
		"end before start": {start.Add(-time.Millisecond), models.StatusCompleted},
		"zero end":         {time.Time{}, models.StatusCompleted},
		"active outcome":   {start.Add(time.Second), models.StatusActive},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Finalize(s, c.end, c.outcome, "")
			if !errors.Is(err, models.ErrInvalidArgument) {
				t.Fatalf("expected invalid argument, got %v", err)
			}
		})
	}
}

func TestFinalizeUnknownStatus(t *testing.T) {
	s := models.Session{ID: "x", Status: "paused", StartedAt: start}
	if _, err := Finalize(s, start, models.StatusCompleted, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}
