// Package routing is the conversation ownership core: the admission rule for
// the bot, the transition protocol advisors and sweeps go through, and the
// periodic jobs that distribute queued conversations and clean up stale
// ownership. All mutation happens through single conditional writes against
// the store; a transition that reports false lost a race and changed nothing.
package routing

import "github.com/conversia/backend/internal/models"

// CanBotTakeControl is the admission gate evaluated on every inbound trigger
// before the bot engine may run flow logic. It is pure: callers pass the
// current conversation snapshot and the bot's own session, if any.
//
// The bot must stay out whenever a human owns the conversation (attending),
// or has been handed it but not yet accepted (active with an advisor
// assigned), or the conversation is waiting in a queue. The one carve-out:
// a bot mid-dialogue, awaiting the user's next reply, may finish its prompt
// even though a fallback queue was already attached. Do not widen this
// exception.
func CanBotTakeControl(c models.Conversation, session *models.BotSession) bool {
	switch c.Status {
	case models.StatusAttending:
		return false
	case models.StatusClosed:
		// A new inbound contact reopens the conversation with the bot.
		return true
	}
	if _, human := c.AssignedAdvisor(); human {
		return false
	}
	if c.QueueID != nil {
		return session != nil && session.AwaitingInput
	}
	return true
}
