package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conversia/backend/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

const conversationColumns = `id, contact_address, channel, connection_id, status,
	assigned_to, assigned_at, queue_id, queued_at, bot_flow_id, bot_started_at,
	attended_by, transferred_from, closed_reason, last_message_at, created_at, updated_at`

func scanConversation(row pgx.Row) (models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(
		&c.ID, &c.ContactAddress, &c.Channel, &c.ConnectionID, &c.Status,
		&c.AssignedTo, &c.AssignedAt, &c.QueueID, &c.QueuedAt, &c.BotFlowID, &c.BotStartedAt,
		&c.AttendedBy, &c.TransferredFrom, &c.ClosedReason, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func (s *Store) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	c, err := scanConversation(s.Pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Conversation{}, ErrNotFound
	}
	return c, err
}

func (s *Store) CreateConversation(ctx context.Context, c models.Conversation) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO conversations (id, contact_address, channel, connection_id, status, attended_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, '{}', NOW(), NOW())
	`, c.ID, c.ContactAddress, c.Channel, c.ConnectionID, models.StatusActive)
	return err
}

// FindOpenConversation returns the non-closed conversation for a contact triple,
// or ErrNotFound. At most one exists by schema constraint.
func (s *Store) FindOpenConversation(ctx context.Context, address, channel, connectionID string) (models.Conversation, error) {
	c, err := scanConversation(s.Pool.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE contact_address = $1 AND channel = $2 AND connection_id = $3 AND status <> $4
	`, address, channel, connectionID, models.StatusClosed))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Conversation{}, ErrNotFound
	}
	return c, err
}

func (s *Store) ListConversations(ctx context.Context, status, queueID, assignedTo string, limit, offset int) ([]models.Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations`
	var args []any
	var wheres []string
	if status != "" {
		args = append(args, status)
		wheres = append(wheres, fmt.Sprintf("status = $%d", len(args)))
	}
	if queueID != "" {
		args = append(args, queueID)
		wheres = append(wheres, fmt.Sprintf("queue_id = $%d", len(args)))
	}
	if assignedTo != "" {
		args = append(args, assignedTo)
		wheres = append(wheres, fmt.Sprintf("assigned_to = $%d", len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY updated_at DESC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
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

// QueuedConversations returns unassigned queued conversations oldest first.
func (s *Store) QueuedConversations(ctx context.Context, queueID string) ([]models.Conversation, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE status = $1 AND queue_id = $2 AND assigned_to IS NULL
		ORDER BY queued_at ASC
	`, models.StatusActive, queueID)
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

// ActiveCount is the advisor's live workload: conversations handed to or
// attended by them that are not closed.
func (s *Store) ActiveCount(ctx context.Context, advisorID string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM conversations
		WHERE assigned_to = $1 AND status IN ($2, $3)
	`, advisorID, models.StatusActive, models.StatusAttending).Scan(&n)
	return n, err
}

func (s *Store) TouchLastMessage(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE conversations SET last_message_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (s *Store) ListQueues(ctx context.Context) ([]models.Queue, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, name, distribution, advisors, supervisors FROM queues ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Queue
	for rows.Next() {
		var q models.Queue
		if err := rows.Scan(&q.ID, &q.Name, &q.Distribution, &q.Advisors, &q.Supervisors); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) GetQueue(ctx context.Context, id string) (models.Queue, error) {
	var q models.Queue
	err := s.Pool.QueryRow(ctx,
		`SELECT id, name, distribution, advisors, supervisors FROM queues WHERE id = $1`, id).
		Scan(&q.ID, &q.Name, &q.Distribution, &q.Advisors, &q.Supervisors)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Queue{}, ErrNotFound
	}
	return q, err
}

// Cursor returns the round-robin pointer for a queue, "" when unset.
func (s *Store) Cursor(ctx context.Context, queueID string) (string, error) {
	var advisorID string
	err := s.Pool.QueryRow(ctx,
		`SELECT last_advisor_id FROM queue_cursors WHERE queue_id = $1`, queueID).Scan(&advisorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return advisorID, err
}

func (s *Store) SetCursor(ctx context.Context, queueID, advisorID string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO queue_cursors (queue_id, last_advisor_id) VALUES ($1, $2)
		ON CONFLICT (queue_id) DO UPDATE SET last_advisor_id = EXCLUDED.last_advisor_id
	`, queueID, advisorID)
	return err
}

// ClaimDayFlag latches the first-advisor-of-day pass for a queue. Returns
// true only for the first caller on a given calendar day.
func (s *Store) ClaimDayFlag(ctx context.Context, queueID string, day time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO queue_day_flags (queue_id, day) VALUES ($1, $2)
		ON CONFLICT (queue_id, day) DO NOTHING
	`, queueID, day.Format("2006-01-02"))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AppendSystemEvent(ctx context.Context, ev models.SystemEvent) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO system_events (id, conversation_id, actor, kind, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.ConversationID, ev.Actor, ev.Kind, ev.Body, ev.CreatedAt)
	return err
}

func (s *Store) RecentSystemEvents(ctx context.Context, conversationID string, limit int) ([]models.SystemEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, conversation_id, actor, kind, body, created_at FROM system_events
		WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SystemEvent
	for rows.Next() {
		var ev models.SystemEvent
		if err := rows.Scan(&ev.ID, &ev.ConversationID, &ev.Actor, &ev.Kind, &ev.Body, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) UpsertBotSession(ctx context.Context, bs models.BotSession) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO bot_sessions (conversation_id, flow_id, awaiting_input, last_prompt_at, timeout_action, timeout_target)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (conversation_id) DO UPDATE SET
			flow_id = EXCLUDED.flow_id,
			awaiting_input = EXCLUDED.awaiting_input,
			last_prompt_at = EXCLUDED.last_prompt_at,
			timeout_action = EXCLUDED.timeout_action,
			timeout_target = EXCLUDED.timeout_target
	`, bs.ConversationID, bs.FlowID, bs.AwaitingInput, bs.LastPromptAt, bs.TimeoutAction, bs.TimeoutTarget)
	return err
}

// GetBotSession returns nil when the bot has no session for the conversation.
func (s *Store) GetBotSession(ctx context.Context, conversationID string) (*models.BotSession, error) {
	var bs models.BotSession
	err := s.Pool.QueryRow(ctx, `
		SELECT conversation_id, flow_id, awaiting_input, last_prompt_at, timeout_action, timeout_target
		FROM bot_sessions WHERE conversation_id = $1
	`, conversationID).Scan(&bs.ConversationID, &bs.FlowID, &bs.AwaitingInput, &bs.LastPromptAt, &bs.TimeoutAction, &bs.TimeoutTarget)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bs, nil
}

// StaleAwaitingSessions returns bot sessions stuck waiting on a user reply
// since before the cutoff.
func (s *Store) StaleAwaitingSessions(ctx context.Context, cutoff time.Time) ([]models.BotSession, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT conversation_id, flow_id, awaiting_input, last_prompt_at, timeout_action, timeout_target
		FROM bot_sessions
		WHERE awaiting_input AND last_prompt_at IS NOT NULL AND last_prompt_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BotSession
	for rows.Next() {
		var bs models.BotSession
		if err := rows.Scan(&bs.ConversationID, &bs.FlowID, &bs.AwaitingInput, &bs.LastPromptAt, &bs.TimeoutAction, &bs.TimeoutTarget); err != nil {
			return nil, err
		}
		out = append(out, bs)
	}
	return out, rows.Err()
}

func (s *Store) ClearBotSession(ctx context.Context, conversationID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM bot_sessions WHERE conversation_id = $1`, conversationID)
	return err
}
