package routing

import (
	"context"
	"errors"
	"testing"
)

func TestRoundRobin_RotatesAndWraps(t *testing.T) {
	store := newMemStore()
	tracker := NewRoundRobinTracker(store)
	ctx := context.Background()
	eligible := []string{"a1", "a2", "a3"}

	var got []string
	for i := 0; i < 6; i++ {
		a, err := tracker.NextAdvisor(ctx, "q1", eligible)
		if err != nil {
			t.Fatalf("next advisor: %v", err)
		}
		got = append(got, a)
	}

	want := []string{"a1", "a2", "a3", "a1", "a2", "a3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestRoundRobin_ResetsWhenPointerLeaves(t *testing.T) {
	store := newMemStore()
	tracker := NewRoundRobinTracker(store)
	ctx := context.Background()

	if _, err := tracker.NextAdvisor(ctx, "q1", []string{"a1", "a2"}); err != nil {
		t.Fatalf("next advisor: %v", err)
	}
	// a1 holds the cursor; a1 goes offline.
	a, err := tracker.NextAdvisor(ctx, "q1", []string{"a2", "a3"})
	if err != nil {
		t.Fatalf("next advisor: %v", err)
	}
	if a != "a2" {
		t.Fatalf("expected reset to first eligible a2, got %s", a)
	}
}

func TestRoundRobin_CursorSurvivesTrackerRestart(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	eligible := []string{"a1", "a2"}

	if _, err := NewRoundRobinTracker(store).NextAdvisor(ctx, "q1", eligible); err != nil {
		t.Fatalf("next advisor: %v", err)
	}
	a, err := NewRoundRobinTracker(store).NextAdvisor(ctx, "q1", eligible)
	if err != nil {
		t.Fatalf("next advisor: %v", err)
	}
	if a != "a2" {
		t.Fatalf("expected persisted cursor to continue rotation at a2, got %s", a)
	}
}

func TestRoundRobin_NoEligible(t *testing.T) {
	tracker := NewRoundRobinTracker(newMemStore())
	if _, err := tracker.NextAdvisor(context.Background(), "q1", nil); !errors.Is(err, ErrNoEligibleAdvisors) {
		t.Fatalf("expected ErrNoEligibleAdvisors, got %v", err)
	}
}

func TestRoundRobin_SingleEligible(t *testing.T) {
	tracker := NewRoundRobinTracker(newMemStore())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		a, err := tracker.NextAdvisor(ctx, "q1", []string{"a1"})
		if err != nil || a != "a1" {
			t.Fatalf("expected a1 every time, got %s err=%v", a, err)
		}
	}
}
