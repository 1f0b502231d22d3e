package routing

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/conversia/backend/internal/models"
	"github.com/conversia/backend/internal/notify"
)

func attend(store *memStore, id, advisorID string, assignedAgo, lastMessageAgo time.Duration) {
	store.addConversation(id)
	store.mu.Lock()
	defer store.mu.Unlock()
	c := store.convs[id]
	assignedAt := time.Now().UTC().Add(-assignedAgo)
	lastAt := time.Now().UTC().Add(-lastMessageAgo)
	c.Status = models.StatusAttending
	c.AssignedTo = &advisorID
	c.AssignedAt = &assignedAt
	c.LastMessageAt = &lastAt
	c.AttendedBy = []string{advisorID}
}

func TestInactivityCloser_ClosesOnlyStale(t *testing.T) {
	store := newMemStore()
	attend(store, "stale", "a1", 2*time.Hour, 2*time.Hour)
	attend(store, "fresh", "a2", 2*time.Hour, time.Minute)

	ops := NewOperations(store, notify.Noop{}, zerolog.Nop())
	s := NewInactivityCloser(ops, time.Hour, zerolog.Nop())
	s.sweep(context.Background())

	stale, _ := store.GetConversation(context.Background(), "stale")
	if stale.Status != models.StatusClosed {
		t.Fatalf("expected stale conversation closed, got %s", stale.Status)
	}
	if stale.AssignedTo != nil || stale.QueueID != nil {
		t.Fatalf("expected ownership cleared on close, got %+v", stale)
	}
	if stale.ClosedReason == nil || *stale.ClosedReason != "inactivity_timeout" {
		t.Fatalf("expected inactivity close reason, got %v", stale.ClosedReason)
	}

	fresh, _ := store.GetConversation(context.Background(), "fresh")
	if fresh.Status != models.StatusAttending {
		t.Fatalf("expected fresh conversation untouched, got %s", fresh.Status)
	}

	// Closure notice emitted for the stale conversation only.
	notices := 0
	for _, ev := range store.events {
		if ev.Kind == "closed_inactivity" {
			notices++
		}
	}
	if notices != 1 {
		t.Fatalf("expected 1 closure notice, got %d", notices)
	}
}

func botSession(store *memStore, convID string, promptedAgo time.Duration, action, target string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	at := time.Now().UTC().Add(-promptedAgo)
	store.sessions[convID] = &models.BotSession{
		ConversationID: convID,
		FlowID:         "flow-1",
		AwaitingInput:  true,
		LastPromptAt:   &at,
		TimeoutAction:  action,
		TimeoutTarget:  target,
	}
}

func claimBot(t *testing.T, ops *Operations, id string) {
	t.Helper()
	ok, err := ops.ClaimForBot(context.Background(), id, "flow-1")
	if err != nil || !ok {
		t.Fatalf("bot claim %s: ok=%v err=%v", id, ok, err)
	}
}

func TestBotStallSweep_TransfersToQueue(t *testing.T) {
	store := newMemStore()
	store.addConversation("c1")
	ops := NewOperations(store, notify.Noop{}, zerolog.Nop())
	claimBot(t, ops, "c1")
	botSession(store, "c1", time.Hour, models.TimeoutActionQueue, "q1")

	s := NewBotStallSweep(store, ops, 10*time.Minute, zerolog.Nop())
	s.sweep(context.Background())

	c, _ := store.GetConversation(context.Background(), "c1")
	if c.QueueID == nil || *c.QueueID != "q1" {
		t.Fatalf("expected transfer to q1, got %+v", c)
	}
	if c.AssignedTo != nil || c.BotFlowID != nil {
		t.Fatalf("expected bot ownership cleared, got %+v", c)
	}
	if _, ok := store.sessions["c1"]; ok {
		t.Fatalf("expected bot session cleared")
	}
}

func TestBotStallSweep_TransfersToAdvisor(t *testing.T) {
	store := newMemStore()
	store.addConversation("c1")
	ops := NewOperations(store, notify.Noop{}, zerolog.Nop())
	claimBot(t, ops, "c1")
	botSession(store, "c1", time.Hour, models.TimeoutActionAdvisor, "a1")

	s := NewBotStallSweep(store, ops, 10*time.Minute, zerolog.Nop())
	s.sweep(context.Background())

	c, _ := store.GetConversation(context.Background(), "c1")
	if c.Status != models.StatusActive || c.AssignedTo == nil || *c.AssignedTo != "a1" {
		t.Fatalf("expected advisor handoff, got %+v", c)
	}
}

func TestBotStallSweep_IgnoresFreshSessions(t *testing.T) {
	store := newMemStore()
	store.addConversation("c1")
	ops := NewOperations(store, notify.Noop{}, zerolog.Nop())
	claimBot(t, ops, "c1")
	botSession(store, "c1", time.Minute, models.TimeoutActionQueue, "q1")

	s := NewBotStallSweep(store, ops, 10*time.Minute, zerolog.Nop())
	s.sweep(context.Background())

	c, _ := store.GetConversation(context.Background(), "c1")
	if !c.BotOwned() {
		t.Fatalf("expected bot to keep a fresh session, got %+v", c)
	}
	if _, ok := store.sessions["c1"]; !ok {
		t.Fatalf("expected session kept")
	}
}

func TestBotStallSweep_LostRaceStillClearsSession(t *testing.T) {
	store := newMemStore()
	store.addConversation("c1")
	ops := NewOperations(store, notify.Noop{}, zerolog.Nop())
	claimBot(t, ops, "c1")
	botSession(store, "c1", time.Hour, models.TimeoutActionQueue, "q1")

	// The conversation gets archived before the sweep fires.
	if ok, err := ops.Archive(context.Background(), "c1", "resolved", "a9"); err != nil || !ok {
		t.Fatalf("archive: ok=%v err=%v", ok, err)
	}

	s := NewBotStallSweep(store, ops, 10*time.Minute, zerolog.Nop())
	s.sweep(context.Background())

	c, _ := store.GetConversation(context.Background(), "c1")
	if c.Status != models.StatusClosed || c.QueueID != nil {
		t.Fatalf("expected closed conversation untouched, got %+v", c)
	}
	if _, ok := store.sessions["c1"]; ok {
		t.Fatalf("expected stale session cleared after lost race")
	}
}
