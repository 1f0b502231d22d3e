package models

import "time"

// Conversation lifecycle states.
const (
	StatusActive    = "active"
	StatusAttending = "attending"
	StatusClosed    = "closed"
)

// AssignedBot is the sentinel stored in assigned_to while the bot owns a conversation.
const AssignedBot = "bot"

// Queue distribution modes.
const (
	DistributionRoundRobin = "round_robin"
	DistributionLeastBusy  = "least_busy"
	DistributionManual     = "manual"
)

type Conversation struct {
	ID              string     `json:"id"`
	ContactAddress  string     `json:"contact_address"`
	Channel         string     `json:"channel"`
	ConnectionID    string     `json:"connection_id"`
	Status          string     `json:"status"`
	AssignedTo      *string    `json:"assigned_to"`
	AssignedAt      *time.Time `json:"assigned_at"`
	QueueID         *string    `json:"queue_id"`
	QueuedAt        *time.Time `json:"queued_at"`
	BotFlowID       *string    `json:"bot_flow_id"`
	BotStartedAt    *time.Time `json:"bot_started_at"`
	AttendedBy      []string   `json:"attended_by"`
	TransferredFrom *string    `json:"transferred_from"`
	ClosedReason    *string    `json:"closed_reason"`
	LastMessageAt   *time.Time `json:"last_message_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AssignedAdvisor returns the advisor id when a human holds the conversation.
func (c Conversation) AssignedAdvisor() (string, bool) {
	if c.AssignedTo == nil || *c.AssignedTo == AssignedBot {
		return "", false
	}
	return *c.AssignedTo, true
}

// BotOwned reports whether the bot currently holds the conversation.
func (c Conversation) BotOwned() bool {
	return c.AssignedTo != nil && *c.AssignedTo == AssignedBot
}

type Queue struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Distribution string   `json:"distribution"`
	Advisors     []string `json:"advisors"`
	Supervisors  []string `json:"supervisors"`
}

// AssignableAdvisors returns queue members that are not supervisors,
// preserving the queue's advisor order.
func (q Queue) AssignableAdvisors() []string {
	sup := make(map[string]bool, len(q.Supervisors))
	for _, s := range q.Supervisors {
		sup[s] = true
	}
	out := make([]string, 0, len(q.Advisors))
	for _, a := range q.Advisors {
		if !sup[a] {
			out = append(out, a)
		}
	}
	return out
}

// BotSession is the bot engine's per-conversation dialogue state. The routing
// core only reads it: the awaiting-input flag feeds the bot admission rule and
// the stall sweep.
type BotSession struct {
	ConversationID string     `json:"conversation_id"`
	FlowID         string     `json:"flow_id"`
	AwaitingInput  bool       `json:"awaiting_input"`
	LastPromptAt   *time.Time `json:"last_prompt_at"`
	TimeoutAction  string     `json:"timeout_action"` // queue | advisor | none
	TimeoutTarget  string     `json:"timeout_target"`
}

// Bot session timeout actions.
const (
	TimeoutActionQueue   = "queue"
	TimeoutActionAdvisor = "advisor"
	TimeoutActionNone    = "none"
)

// SystemEvent is an immutable audit record appended after every successful
// ownership transition.
type SystemEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Actor          string    `json:"actor"`
	Kind           string    `json:"kind"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}
