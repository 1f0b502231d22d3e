package db

import (
	"context"
	"time"

	"github.com/conversia/backend/internal/models"
)

// Ownership transitions. Each one is a single conditional UPDATE: the WHERE
// clause carries the precondition and the boolean result is RowsAffected == 1.
// A false result means the precondition no longer held when the write landed
// (a concurrent actor got there first) and the caller must not assume success.

// ClaimForBot hands the conversation to the bot. Fails once anyone holds it.
func (s *Store) ClaimForBot(ctx context.Context, id, flowID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE conversations SET
			assigned_to = $2, bot_flow_id = $3, bot_started_at = NOW(),
			queue_id = NULL, queued_at = NULL, updated_at = NOW()
		WHERE id = $1 AND assigned_to IS NULL AND status <> $4
	`, id, models.AssignedBot, flowID, models.StatusClosed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AssignAdvisor hands an active conversation to an advisor "to work". The
// advisor still has to accept before the status moves to attending.
func (s *Store) AssignAdvisor(ctx context.Context, id, advisorID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE conversations SET
			assigned_to = $2, assigned_at = NOW(),
			bot_flow_id = NULL, bot_started_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, advisorID, models.StatusActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AcceptConversation(ctx context.Context, id, advisorID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE conversations SET
			status = $3, assigned_to = $2, assigned_at = NOW(),
			bot_flow_id = NULL, bot_started_at = NULL,
			attended_by = CASE WHEN $2 = ANY(attended_by) THEN attended_by ELSE array_append(attended_by, $2) END,
			updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, advisorID, models.StatusAttending, models.StatusActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseConversation drops the current human assignment. The queue pointer is
// left untouched so the next distribution cycle can pick the conversation up
// again.
func (s *Store) ReleaseConversation(ctx context.Context, id string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE conversations SET
			status = $2, assigned_to = NULL, assigned_at = NULL, updated_at = NOW()
		WHERE id = $1 AND (status = $3 OR (status = $2 AND assigned_to IS NOT NULL))
	`, id, models.StatusActive, models.StatusAttending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RejectConversation is a release restricted to attended conversations.
func (s *Store) RejectConversation(ctx context.Context, id string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE conversations SET
			status = $2, assigned_to = NULL, assigned_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.StatusActive, models.StatusAttending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) TransferToQueue(ctx context.Context, id, queueID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE conversations SET
			status = $3,
			queue_id = $2, queued_at = NOW(),
			transferred_from = CASE WHEN assigned_to IS NOT NULL AND assigned_to <> $4 THEN assigned_to ELSE transferred_from END,
			assigned_to = NULL, assigned_at = NULL,
			bot_flow_id = NULL, bot_started_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status <> $5
	`, id, queueID, models.StatusActive, models.AssignedBot, models.StatusClosed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) TransferToAdvisor(ctx context.Context, id, advisorID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE conversations SET
			status = $3,
			transferred_from = CASE WHEN assigned_to IS NOT NULL AND assigned_to <> $4 THEN assigned_to ELSE transferred_from END,
			assigned_to = $2, assigned_at = NOW(),
			queue_id = NULL, queued_at = NULL,
			bot_flow_id = NULL, bot_started_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status <> $5
	`, id, advisorID, models.StatusActive, models.AssignedBot, models.StatusClosed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TakeoverConversation reassigns a conversation someone else holds directly
// into attending. The precondition rejects taking over your own chat.
func (s *Store) TakeoverConversation(ctx context.Context, id, advisorID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE conversations SET
			status = $3,
			transferred_from = CASE WHEN assigned_to IS NOT NULL AND assigned_to <> $4 THEN assigned_to ELSE transferred_from END,
			assigned_to = $2, assigned_at = NOW(),
			queue_id = NULL, queued_at = NULL,
			bot_flow_id = NULL, bot_started_at = NULL,
			attended_by = CASE WHEN $2 = ANY(attended_by) THEN attended_by ELSE array_append(attended_by, $2) END,
			updated_at = NOW()
		WHERE id = $1 AND assigned_to IS DISTINCT FROM $2 AND status <> $5
	`, id, advisorID, models.StatusAttending, models.AssignedBot, models.StatusClosed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ArchiveConversation(ctx context.Context, id, reason string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE conversations SET
			status = $2, closed_reason = $3,
			assigned_to = NULL, assigned_at = NULL,
			queue_id = NULL, queued_at = NULL,
			bot_flow_id = NULL, bot_started_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status <> $2
	`, id, models.StatusClosed, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReopenConversation reverses an archive. With an advisor id the conversation
// goes straight to attending under that advisor, otherwise back to active
// unowned so the bot or the distributor can take it.
func (s *Store) ReopenConversation(ctx context.Context, id string, byAdvisor *string) (bool, error) {
	if byAdvisor != nil {
		tag, err := s.Pool.Exec(ctx, `
			UPDATE conversations SET
				status = $3, closed_reason = NULL,
				assigned_to = $2, assigned_at = NOW(),
				attended_by = CASE WHEN $2 = ANY(attended_by) THEN attended_by ELSE array_append(attended_by, $2) END,
				updated_at = NOW()
			WHERE id = $1 AND status = $4
		`, id, *byAdvisor, models.StatusAttending, models.StatusClosed)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() == 1, nil
	}
	tag, err := s.Pool.Exec(ctx, `
		UPDATE conversations SET
			status = $2, closed_reason = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.StatusActive, models.StatusClosed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CloseInactive closes attending conversations whose assignment and last
// customer message both precede the cutoff, returning the closed rows so the
// sweep can emit closure notices.
func (s *Store) CloseInactive(ctx context.Context, cutoff time.Time) ([]models.Conversation, error) {
	rows, err := s.Pool.Query(ctx, `
		UPDATE conversations SET
			status = $2, closed_reason = $3,
			assigned_to = NULL, assigned_at = NULL,
			queue_id = NULL, queued_at = NULL,
			bot_flow_id = NULL, bot_started_at = NULL, updated_at = NOW()
		WHERE status = $4 AND assigned_at < $1
			AND (last_message_at IS NULL OR last_message_at < $1)
		RETURNING `+conversationColumns,
		cutoff, models.StatusClosed, "inactivity_timeout", models.StatusAttending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
