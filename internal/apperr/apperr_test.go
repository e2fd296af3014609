package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesSentinelOfSameKind(t *testing.T) {
	err := New(KindNotFound, "posts.get", "missing", "post not found", nil)
	wrapped := fmt.Errorf("outer: %w", err)

	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("expected wrapped error to match ErrNotFound")
	}
	if errors.Is(wrapped, ErrUnauthorized) {
		t.Fatalf("did not expect match with ErrUnauthorized")
	}
	if KindOf(wrapped) != KindNotFound {
		t.Fatalf("unexpected kind %q", KindOf(wrapped))
	}
	if CodeOf(wrapped) != "posts.get.missing" {
		t.Fatalf("unexpected code %q", CodeOf(wrapped))
	}
}

func TestBackendPassesCauseMessageThrough(t *testing.T) {
	cause := errors.New("connection refused")
	err := Backend("posts.list", "query_failed", cause)

	if err.Message() != "connection refused" {
		t.Fatalf("unexpected message %q", err.Message())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be unwrapped")
	}
	if err.Error() != "posts.list.query_failed: connection refused" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}

func TestKindOfTreatsUntaggedErrorsAsBackend(t *testing.T) {
	if KindOf(nil) != "" {
		t.Fatalf("expected empty kind for nil")
	}
	if KindOf(errors.New("boom")) != KindBackend {
		t.Fatalf("expected untagged error to count as backend fault")
	}
	if MessageOf(errors.New("boom")) != "boom" {
		t.Fatalf("unexpected message for untagged error")
	}
}
