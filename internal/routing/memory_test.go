package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/conversia/backend/internal/models"
)

// memStore mirrors the store's conditional-update semantics in memory: every
// transition checks its precondition and reports false without mutating when
// it no longer holds.
type memStore struct {
	mu       sync.Mutex
	convs    map[string]*models.Conversation
	queues   []models.Queue
	cursors  map[string]string
	dayFlags map[string]bool
	sessions map[string]*models.BotSession
	events   []models.SystemEvent
}

func newMemStore() *memStore {
	return &memStore{
		convs:    map[string]*models.Conversation{},
		cursors:  map[string]string{},
		dayFlags: map[string]bool{},
		sessions: map[string]*models.BotSession{},
	}
}

func (m *memStore) addConversation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	m.convs[id] = &models.Conversation{ID: id, Status: models.StatusActive, CreatedAt: now, UpdatedAt: now}
}

func (m *memStore) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return models.Conversation{}, errors.New("not found")
	}
	return *c, nil
}

func (m *memStore) ClaimForBot(ctx context.Context, id, flowID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || c.AssignedTo != nil || c.Status == models.StatusClosed {
		return false, nil
	}
	bot := models.AssignedBot
	now := time.Now().UTC()
	c.AssignedTo = &bot
	c.BotFlowID = &flowID
	c.BotStartedAt = &now
	c.QueueID = nil
	c.QueuedAt = nil
	return true, nil
}

func (m *memStore) AssignAdvisor(ctx context.Context, id, advisorID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || c.Status != models.StatusActive {
		return false, nil
	}
	now := time.Now().UTC()
	c.AssignedTo = &advisorID
	c.AssignedAt = &now
	c.BotFlowID = nil
	c.BotStartedAt = nil
	return true, nil
}

func (m *memStore) AcceptConversation(ctx context.Context, id, advisorID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || c.Status != models.StatusActive {
		return false, nil
	}
	now := time.Now().UTC()
	c.Status = models.StatusAttending
	c.AssignedTo = &advisorID
	c.AssignedAt = &now
	c.BotFlowID = nil
	c.BotStartedAt = nil
	appendAttended(c, advisorID)
	return true, nil
}

func (m *memStore) ReleaseConversation(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return false, nil
	}
	if c.Status != models.StatusAttending && !(c.Status == models.StatusActive && c.AssignedTo != nil) {
		return false, nil
	}
	c.Status = models.StatusActive
	c.AssignedTo = nil
	c.AssignedAt = nil
	return true, nil
}

func (m *memStore) RejectConversation(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || c.Status != models.StatusAttending {
		return false, nil
	}
	c.Status = models.StatusActive
	c.AssignedTo = nil
	c.AssignedAt = nil
	return true, nil
}

func (m *memStore) TransferToQueue(ctx context.Context, id, queueID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || c.Status == models.StatusClosed {
		return false, nil
	}
	now := time.Now().UTC()
	recordTransferredFrom(c)
	c.Status = models.StatusActive
	c.QueueID = &queueID
	c.QueuedAt = &now
	c.AssignedTo = nil
	c.AssignedAt = nil
	c.BotFlowID = nil
	c.BotStartedAt = nil
	return true, nil
}

func (m *memStore) TransferToAdvisor(ctx context.Context, id, advisorID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || c.Status == models.StatusClosed {
		return false, nil
	}
	now := time.Now().UTC()
	recordTransferredFrom(c)
	c.Status = models.StatusActive
	c.AssignedTo = &advisorID
	c.AssignedAt = &now
	c.QueueID = nil
	c.QueuedAt = nil
	c.BotFlowID = nil
	c.BotStartedAt = nil
	return true, nil
}

func (m *memStore) TakeoverConversation(ctx context.Context, id, advisorID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || c.Status == models.StatusClosed {
		return false, nil
	}
	if c.AssignedTo != nil && *c.AssignedTo == advisorID {
		return false, nil
	}
	now := time.Now().UTC()
	recordTransferredFrom(c)
	c.Status = models.StatusAttending
	c.AssignedTo = &advisorID
	c.AssignedAt = &now
	c.QueueID = nil
	c.QueuedAt = nil
	c.BotFlowID = nil
	c.BotStartedAt = nil
	appendAttended(c, advisorID)
	return true, nil
}

func (m *memStore) ArchiveConversation(ctx context.Context, id, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || c.Status == models.StatusClosed {
		return false, nil
	}
	c.Status = models.StatusClosed
	c.ClosedReason = &reason
	c.AssignedTo = nil
	c.AssignedAt = nil
	c.QueueID = nil
	c.QueuedAt = nil
	c.BotFlowID = nil
	c.BotStartedAt = nil
	return true, nil
}

func (m *memStore) ReopenConversation(ctx context.Context, id string, byAdvisor *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || c.Status != models.StatusClosed {
		return false, nil
	}
	c.ClosedReason = nil
	if byAdvisor != nil {
		now := time.Now().UTC()
		c.Status = models.StatusAttending
		c.AssignedTo = byAdvisor
		c.AssignedAt = &now
		appendAttended(c, *byAdvisor)
	} else {
		c.Status = models.StatusActive
	}
	return true, nil
}

func (m *memStore) CloseInactive(ctx context.Context, cutoff time.Time) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Conversation
	for _, c := range m.convs {
		if c.Status != models.StatusAttending || c.AssignedAt == nil || !c.AssignedAt.Before(cutoff) {
			continue
		}
		if c.LastMessageAt != nil && !c.LastMessageAt.Before(cutoff) {
			continue
		}
		reason := "inactivity_timeout"
		c.Status = models.StatusClosed
		c.ClosedReason = &reason
		c.AssignedTo = nil
		c.AssignedAt = nil
		c.QueueID = nil
		c.QueuedAt = nil
		c.BotFlowID = nil
		c.BotStartedAt = nil
		out = append(out, *c)
	}
	return out, nil
}

func (m *memStore) AppendSystemEvent(ctx context.Context, ev models.SystemEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) ListQueues(ctx context.Context) ([]models.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Queue(nil), m.queues...), nil
}

func (m *memStore) QueuedConversations(ctx context.Context, queueID string) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Conversation
	for _, c := range m.convs {
		if c.Status == models.StatusActive && c.AssignedTo == nil && c.QueueID != nil && *c.QueueID == queueID {
			out = append(out, *c)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if queuedBefore(out[j], out[i]) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (m *memStore) ActiveCount(ctx context.Context, advisorID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.convs {
		if c.AssignedTo != nil && *c.AssignedTo == advisorID && c.Status != models.StatusClosed {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ClaimDayFlag(ctx context.Context, queueID string, day time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s/%s", queueID, day.Format("2006-01-02"))
	if m.dayFlags[key] {
		return false, nil
	}
	m.dayFlags[key] = true
	return true, nil
}

func (m *memStore) Cursor(ctx context.Context, queueID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[queueID], nil
}

func (m *memStore) SetCursor(ctx context.Context, queueID, advisorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[queueID] = advisorID
	return nil
}

func (m *memStore) StaleAwaitingSessions(ctx context.Context, cutoff time.Time) ([]models.BotSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BotSession
	for _, bs := range m.sessions {
		if bs.AwaitingInput && bs.LastPromptAt != nil && bs.LastPromptAt.Before(cutoff) {
			out = append(out, *bs)
		}
	}
	return out, nil
}

func (m *memStore) ClearBotSession(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, conversationID)
	return nil
}

func appendAttended(c *models.Conversation, advisorID string) {
	for _, a := range c.AttendedBy {
		if a == advisorID {
			return
		}
	}
	c.AttendedBy = append(c.AttendedBy, advisorID)
}

func recordTransferredFrom(c *models.Conversation) {
	if c.AssignedTo != nil && *c.AssignedTo != models.AssignedBot {
		from := *c.AssignedTo
		c.TransferredFrom = &from
	}
}

func queuedBefore(a, b models.Conversation) bool {
	switch {
	case a.QueuedAt == nil || b.QueuedAt == nil:
		return a.ID < b.ID
	case a.QueuedAt.Equal(*b.QueuedAt):
		return a.ID < b.ID
	default:
		return a.QueuedAt.Before(*b.QueuedAt)
	}
}

// fakePresence marks listed advisors as receiving.
type fakePresence map[string]bool

func (f fakePresence) Receiving(ctx context.Context, advisorID string) (bool, error) {
	return f[advisorID], nil
}
