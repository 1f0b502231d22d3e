package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/conversia/backend/internal/models"
	"github.com/conversia/backend/internal/notify"
)

// Actors recorded on system events for transitions not driven by an advisor.
const (
	ActorBot         = "bot"
	ActorSystem      = "system"
	ActorDistributor = "distributor"
)

// Invalid transition requests, rejected before any write is attempted.
var (
	ErrSelfTakeover = errors.New("cannot take over your own conversation")
	ErrNoTarget     = errors.New("transfer target is required")
)

// ConversationStore is the slice of the store the transition protocol needs.
// Every transition method performs one conditional write and reports whether
// the precondition still held.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	ClaimForBot(ctx context.Context, id, flowID string) (bool, error)
	AssignAdvisor(ctx context.Context, id, advisorID string) (bool, error)
	AcceptConversation(ctx context.Context, id, advisorID string) (bool, error)
	ReleaseConversation(ctx context.Context, id string) (bool, error)
	RejectConversation(ctx context.Context, id string) (bool, error)
	TransferToQueue(ctx context.Context, id, queueID string) (bool, error)
	TransferToAdvisor(ctx context.Context, id, advisorID string) (bool, error)
	TakeoverConversation(ctx context.Context, id, advisorID string) (bool, error)
	ArchiveConversation(ctx context.Context, id, reason string) (bool, error)
	ReopenConversation(ctx context.Context, id string, byAdvisor *string) (bool, error)
	CloseInactive(ctx context.Context, cutoff time.Time) ([]models.Conversation, error)
	AppendSystemEvent(ctx context.Context, ev models.SystemEvent) error
}

// Operations is the transition protocol over conversations. Each operation
// attempts exactly one conditional store write; on success it appends an
// audit event and pushes a notification, both best effort. A false result is
// a lost race, not an error: the caller must re-fetch state before deciding
// its next move.
type Operations struct {
	Store    ConversationStore
	Notifier notify.Notifier
	Logger   zerolog.Logger
}

func NewOperations(store ConversationStore, notifier notify.Notifier, logger zerolog.Logger) *Operations {
	return &Operations{Store: store, Notifier: notifier, Logger: logger.With().Str("component", "operations").Logger()}
}

func (o *Operations) ClaimForBot(ctx context.Context, id, flowID string) (bool, error) {
	applied, err := o.Store.ClaimForBot(ctx, id, flowID)
	if err != nil || !applied {
		return applied, err
	}
	o.recordTransition(ctx, id, ActorBot, "bot_claimed", fmt.Sprintf("Bot started flow %s", flowID))
	return true, nil
}

// Assign hands an active conversation to an advisor to work. The advisor
// must still accept before the conversation counts as attended.
func (o *Operations) Assign(ctx context.Context, id, advisorID, actor string) (bool, error) {
	if advisorID == "" {
		return false, ErrNoTarget
	}
	applied, err := o.Store.AssignAdvisor(ctx, id, advisorID)
	if err != nil || !applied {
		return applied, err
	}
	o.recordTransition(ctx, id, actor, "assigned", fmt.Sprintf("Assigned to advisor %s", advisorID))
	return true, nil
}

func (o *Operations) Accept(ctx context.Context, id, advisorID string) (bool, error) {
	applied, err := o.Store.AcceptConversation(ctx, id, advisorID)
	if err != nil || !applied {
		return applied, err
	}
	o.recordTransition(ctx, id, advisorID, "accepted", fmt.Sprintf("Advisor %s accepted the conversation", advisorID))
	return true, nil
}

func (o *Operations) Release(ctx context.Context, id, actor string) (bool, error) {
	applied, err := o.Store.ReleaseConversation(ctx, id)
	if err != nil || !applied {
		return applied, err
	}
	o.recordTransition(ctx, id, actor, "released", "Conversation released back to the queue")
	return true, nil
}

// Reject is a release from an attended conversation, recorded separately so
// rejection rates can be paired with transfer metrics.
func (o *Operations) Reject(ctx context.Context, id, advisorID string) (bool, error) {
	applied, err := o.Store.RejectConversation(ctx, id)
	if err != nil || !applied {
		return applied, err
	}
	o.recordTransition(ctx, id, advisorID, "rejected", fmt.Sprintf("Advisor %s rejected the conversation", advisorID))
	return true, nil
}

func (o *Operations) TransferToQueue(ctx context.Context, id, queueID, actor string) (bool, error) {
	if queueID == "" {
		return false, ErrNoTarget
	}
	applied, err := o.Store.TransferToQueue(ctx, id, queueID)
	if err != nil || !applied {
		return applied, err
	}
	o.recordTransition(ctx, id, actor, "transferred_queue", fmt.Sprintf("Transferred to queue %s", queueID))
	return true, nil
}

func (o *Operations) TransferToAdvisor(ctx context.Context, id, advisorID, actor string) (bool, error) {
	if advisorID == "" {
		return false, ErrNoTarget
	}
	applied, err := o.Store.TransferToAdvisor(ctx, id, advisorID)
	if err != nil || !applied {
		return applied, err
	}
	o.recordTransition(ctx, id, actor, "transferred_advisor", fmt.Sprintf("Transferred to advisor %s", advisorID))
	return true, nil
}

// Takeover reassigns a conversation held by someone else straight into
// attending. Taking over your own conversation is rejected up front; the
// store precondition enforces the same rule against concurrent reassignment.
func (o *Operations) Takeover(ctx context.Context, id, advisorID string) (bool, error) {
	c, err := o.Store.GetConversation(ctx, id)
	if err != nil {
		return false, err
	}
	if c.AssignedTo != nil && *c.AssignedTo == advisorID {
		return false, ErrSelfTakeover
	}
	applied, err := o.Store.TakeoverConversation(ctx, id, advisorID)
	if err != nil || !applied {
		return applied, err
	}
	o.recordTransition(ctx, id, advisorID, "takeover", fmt.Sprintf("Advisor %s took over the conversation", advisorID))
	return true, nil
}

func (o *Operations) Archive(ctx context.Context, id, reason, actor string) (bool, error) {
	if reason == "" {
		reason = "archived"
	}
	applied, err := o.Store.ArchiveConversation(ctx, id, reason)
	if err != nil || !applied {
		return applied, err
	}
	o.recordTransition(ctx, id, actor, "archived", fmt.Sprintf("Conversation closed: %s", reason))
	return true, nil
}

func (o *Operations) Reopen(ctx context.Context, id string, byAdvisor *string, actor string) (bool, error) {
	applied, err := o.Store.ReopenConversation(ctx, id, byAdvisor)
	if err != nil || !applied {
		return applied, err
	}
	body := "Conversation reopened"
	if byAdvisor != nil {
		body = fmt.Sprintf("Conversation reopened by advisor %s", *byAdvisor)
	}
	o.recordTransition(ctx, id, actor, "reopened", body)
	return true, nil
}

// CloseInactive closes every attended conversation stale past the cutoff and
// emits a customer-facing closure notice for each.
func (o *Operations) CloseInactive(ctx context.Context, cutoff time.Time) ([]models.Conversation, error) {
	closed, err := o.Store.CloseInactive(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, c := range closed {
		o.recordTransition(ctx, c.ID, ActorSystem, "closed_inactivity", "Conversation closed after a period of inactivity")
	}
	return closed, nil
}

// recordTransition appends the audit event and pushes notifications after a
// committed transition. Failures here are logged and never undo the write.
func (o *Operations) recordTransition(ctx context.Context, id, actor, kind, body string) {
	ev := models.SystemEvent{
		ID:             uuid.NewString(),
		ConversationID: id,
		Actor:          actor,
		Kind:           kind,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.Store.AppendSystemEvent(ctx, ev); err != nil {
		o.Logger.Error().Err(err).Str("conversation_id", id).Str("kind", kind).Msg("system event append failed")
	}
	if err := o.Notifier.SystemMessage(ctx, ev); err != nil {
		o.Logger.Warn().Err(err).Str("conversation_id", id).Msg("system event push failed")
	}
	c, err := o.Store.GetConversation(ctx, id)
	if err != nil {
		o.Logger.Warn().Err(err).Str("conversation_id", id).Msg("post-transition fetch failed")
		return
	}
	if err := o.Notifier.ConversationUpdated(ctx, c); err != nil {
		o.Logger.Warn().Err(err).Str("conversation_id", id).Msg("conversation push failed")
	}
}
