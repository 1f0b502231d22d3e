package routing

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/conversia/backend/internal/models"
)

// InactivityCloser periodically closes attended conversations whose advisor
// assignment and last customer message both precede the timeout. The closure
// itself is one conditional batch write, so a conversation that receives a
// message between the read and the write is left alone.
type InactivityCloser struct {
	*runner

	ops     *Operations
	timeout time.Duration
	log     zerolog.Logger

	now func() time.Time
}

func NewInactivityCloser(ops *Operations, timeout time.Duration, logger zerolog.Logger) *InactivityCloser {
	s := &InactivityCloser{
		ops:     ops,
		timeout: timeout,
		log:     logger.With().Str("component", "inactivity_closer").Logger(),
		now:     time.Now,
	}
	s.runner = newRunner("inactivity_closer", logger, s.sweep)
	return s
}

func (s *InactivityCloser) sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.timeout)
	closed, err := s.ops.CloseInactive(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("inactivity sweep failed, retrying next tick")
		return
	}
	if len(closed) > 0 {
		s.log.Info().Int("count", len(closed)).Msg("closed inactive conversations")
	}
}

// BotSessionStore is the slice of the store the stall sweep reads.
type BotSessionStore interface {
	StaleAwaitingSessions(ctx context.Context, cutoff time.Time) ([]models.BotSession, error)
	ClearBotSession(ctx context.Context, conversationID string) error
}

// BotStallSweep detects bot sessions stuck waiting on a user reply past the
// timeout and applies the session's configured timeout action: transfer to a
// queue or straight to an advisor, mirroring the transfers the bot engine
// itself performs. Transfers go through the transition protocol, so a
// conversation a human grabbed in the meantime is a harmless lost race.
type BotStallSweep struct {
	*runner

	sessions BotSessionStore
	ops      *Operations
	timeout  time.Duration
	log      zerolog.Logger

	now func() time.Time
}

func NewBotStallSweep(sessions BotSessionStore, ops *Operations, timeout time.Duration, logger zerolog.Logger) *BotStallSweep {
	s := &BotStallSweep{
		sessions: sessions,
		ops:      ops,
		timeout:  timeout,
		log:      logger.With().Str("component", "bot_stall_sweep").Logger(),
		now:      time.Now,
	}
	s.runner = newRunner("bot_stall_sweep", logger, s.sweep)
	return s
}

func (s *BotStallSweep) sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.timeout)
	stale, err := s.sessions.StaleAwaitingSessions(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("stale session query failed, retrying next tick")
		return
	}

	for _, bs := range stale {
		var applied bool
		switch bs.TimeoutAction {
		case models.TimeoutActionQueue:
			applied, err = s.ops.TransferToQueue(ctx, bs.ConversationID, bs.TimeoutTarget, ActorSystem)
		case models.TimeoutActionAdvisor:
			applied, err = s.ops.TransferToAdvisor(ctx, bs.ConversationID, bs.TimeoutTarget, ActorSystem)
		default:
			s.log.Warn().Str("conversation_id", bs.ConversationID).Str("action", bs.TimeoutAction).
				Msg("stalled session has no transfer target, clearing session only")
		}
		if err != nil {
			// Keep the session so the next tick retries the transfer.
			s.log.Error().Err(err).Str("conversation_id", bs.ConversationID).Msg("stall transfer failed")
			continue
		}
		if !applied && (bs.TimeoutAction == models.TimeoutActionQueue || bs.TimeoutAction == models.TimeoutActionAdvisor) {
			s.log.Debug().Str("conversation_id", bs.ConversationID).Msg("lost race, conversation already moved on")
		}
		if err := s.sessions.ClearBotSession(ctx, bs.ConversationID); err != nil {
			s.log.Error().Err(err).Str("conversation_id", bs.ConversationID).Msg("clearing bot session failed")
		}
	}
}
