package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("get stop: %w", E(NotFound, "stop %s not found", "s1"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound match")
	}
	if errors.Is(err, ErrConflict) {
		t.Fatalf("unexpected conflict match")
	}
	if KindOf(err) != NotFound {
		t.Fatalf("kind %q", KindOf(err))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain error has a kind")
	}
}

func TestSafetyRequiredCarriesRoute(t *testing.T) {
	err := fmt.Errorf("transition: %w", SafetyRequired("r1"))
	if !Is(err, SafetyCheckRequired) {
		t.Fatalf("kind mismatch")
	}
	if RouteIDOf(err) != "r1" {
		t.Fatalf("route %q", RouteIDOf(err))
	}
}

func TestWrapUnwrap(t *testing.T) {
	base := errors.New("db down")
	err := Wrap(DownstreamDegraded, base, "route aggregation")
	if !errors.Is(err, base) {
		t.Fatalf("base error lost")
	}
	if err.Error() != "route aggregation: db down" {
		t.Fatalf("message %q", err.Error())
	}
}
