package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestClosedPassesThrough(t *testing.T) {
	b := New(Settings{})

	if err := b.Execute(succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Execute(fail); !errors.Is(err, errBoom) {
		t.Fatalf("expected pass-through error, got %v", err)
	}
	if got := b.State(); got != Closed {
		t.Fatalf("expected closed, got %v", got)
	}
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	b := New(Settings{TripAfter: 3, Cooldown: time.Hour})

	for i := 0; i < 3; i++ {
		b.Execute(fail)
	}
	if got := b.State(); got != Open {
		t.Fatalf("expected open after 3 failures, got %v", got)
	}
	if err := b.Execute(succeed); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(Settings{TripAfter: 3})

	b.Execute(fail)
	b.Execute(fail)
	b.Execute(succeed)
	b.Execute(fail)
	b.Execute(fail)

	if got := b.State(); got != Closed {
		t.Fatalf("expected closed, got %v", got)
	}
}

func TestHalfOpenProbeClosesCircuit(t *testing.T) {
	b := New(Settings{TripAfter: 1, Cooldown: 10 * time.Millisecond})

	b.Execute(fail)
	if got := b.State(); got != Open {
		t.Fatalf("expected open, got %v", got)
	}

	time.Sleep(20 * time.Millisecond)
	if got := b.State(); got != HalfOpen {
		t.Fatalf("expected half-open after cooldown, got %v", got)
	}

	if err := b.Execute(succeed); err != nil {
		t.Fatalf("probe should be admitted: %v", err)
	}
	if got := b.State(); got != Closed {
		t.Fatalf("expected closed after probe success, got %v", got)
	}
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	b := New(Settings{TripAfter: 1, Cooldown: 10 * time.Millisecond})

	b.Execute(fail)
	time.Sleep(20 * time.Millisecond)

	b.Execute(fail)
	if got := b.State(); got != Open {
		t.Fatalf("expected reopen after failed probe, got %v", got)
	}
	if err := b.Execute(succeed); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestProbeQuotaLimitsConcurrentTrials(t *testing.T) {
	b := New(Settings{TripAfter: 1, Cooldown: 10 * time.Millisecond, ProbeQuota: 1})

	b.Execute(fail)
	time.Sleep(20 * time.Millisecond)
	b.State()

	// Admit one in-flight probe, refuse the second.
	gen, err := b.admit()
	if err != nil {
		t.Fatalf("first probe refused: %v", err)
	}
	if _, err := b.admit(); !errors.Is(err, ErrOpen) {
		t.Fatalf("second probe should be refused, got %v", err)
	}
	b.record(gen, true)

	if got := b.State(); got != Closed {
		t.Fatalf("expected closed, got %v", got)
	}
}
