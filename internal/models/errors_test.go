package models

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesSentinelKind(t *testing.T) {
	err := NotFound("session %s not found", "abc")

	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected not found error to match ErrNotFound")
	}
	if errors.Is(err, ErrInvalidState) {
		t.Fatal("did not expect not found error to match ErrInvalidState")
	}

	wrapped := fmt.Errorf("append: %w", err)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatal("expected wrapped error to match ErrNotFound")
	}
}

func TestErrorIsIgnoresNonSentinelTargets(t *testing.T) {
	a := InvalidState("session a is completed")
	b := InvalidState("session b is completed")
	if errors.Is(a, b) {
		t.Fatal("errors with messages are not sentinels")
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := context.DeadlineExceeded
	err := Unavailable(cause, "session store unavailable")

	if err.Error() != "session store unavailable: context deadline exceeded" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
	if (&Error{Kind: KindInternal}).Error() != "internal" {
		t.Fatal("expected bare error to print its kind")
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{InvalidArgument("bad"), KindInvalidArgument},
		{fmt.Errorf("wrap: %w", InvalidState("done")), KindInvalidState},
		{errors.New("boom"), KindInternal},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Fatalf("KindOf(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestPublicMessageHidesForeignErrors(t *testing.T) {
	if got := PublicMessage(NotFound("session x not found")); got != "session x not found" {
		t.Fatalf("unexpected public message %q", got)
	}
	if got := PublicMessage(errors.New("pq: password authentication failed")); got != "internal error" {
		t.Fatalf("expected foreign error to be hidden, got %q", got)
	}
}
