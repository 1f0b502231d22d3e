package routing

import (
	"context"
	"errors"
)

var ErrNoEligibleAdvisors = errors.New("no eligible advisors")

// CursorStore persists the per-queue rotation pointer so fairness survives
// process restarts.
type CursorStore interface {
	Cursor(ctx context.Context, queueID string) (string, error)
	SetCursor(ctx context.Context, queueID, advisorID string) error
}

// RoundRobinTracker rotates assignments across a queue's eligible advisors.
type RoundRobinTracker struct {
	store CursorStore
}

func NewRoundRobinTracker(store CursorStore) *RoundRobinTracker {
	return &RoundRobinTracker{store: store}
}

// NextAdvisor returns the advisor after the stored pointer in the eligible
// list, wrapping around. When the pointer is unset or points at an advisor
// that is no longer eligible (went offline mid-sweep), the rotation resets to
// the first eligible advisor. The new pointer is persisted before returning.
func (t *RoundRobinTracker) NextAdvisor(ctx context.Context, queueID string, eligible []string) (string, error) {
	if len(eligible) == 0 {
		return "", ErrNoEligibleAdvisors
	}

	last, err := t.store.Cursor(ctx, queueID)
	if err != nil {
		return "", err
	}

	next := eligible[0]
	if last != "" {
		for i, a := range eligible {
			if a == last {
				next = eligible[(i+1)%len(eligible)]
				break
			}
		}
	}

	if err := t.store.SetCursor(ctx, queueID, next); err != nil {
		return "", err
	}
	return next, nil
}
