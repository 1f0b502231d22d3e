package notify

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/conversia/backend/internal/models"
)

// Routing keys on the topic exchange.
const (
	KeyConversationUpdated = "conversation.updated"
	KeySystemEvent         = "conversation.system-event"
)

const maxDialDelay = 60 * time.Second

type AMQPNotifier struct {
	conn     *amqp091.Connection
	exchange string
	log      zerolog.Logger
}

type DialOptions struct {
	URL           string
	Exchange      string
	RetryAttempts int
	Delay         time.Duration
}

// NewAMQP connects with exponential backoff and declares the topic exchange.
func NewAMQP(ctx context.Context, opts DialOptions, logger zerolog.Logger) (*AMQPNotifier, error) {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 5
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}

	var conn *amqp091.Connection
	var lastErr error
	for i := 1; i <= opts.RetryAttempts; i++ {
		c, err := amqp091.Dial(opts.URL)
		if err == nil {
			conn = c
			break
		}
		lastErr = err

		sleep := opts.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		logger.Warn().Int("attempt", i).Dur("sleep", sleep).Err(err).Msg("amqp dial failed")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if conn == nil {
		return nil, errors.Join(errors.New("amqp connect failed"), lastErr)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPNotifier{conn: conn, exchange: opts.Exchange, log: logger}, nil
}

func (n *AMQPNotifier) ConversationUpdated(ctx context.Context, c models.Conversation) error {
	return n.publish(ctx, KeyConversationUpdated, c)
}

func (n *AMQPNotifier) SystemMessage(ctx context.Context, ev models.SystemEvent) error {
	return n.publish(ctx, KeySystemEvent, ev)
}

func (n *AMQPNotifier) publish(ctx context.Context, key string, payload any) error {
	ch, err := n.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx, n.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err == nil {
		n.log.Debug().Str("key", key).Str("exchange", n.exchange).Msg("published")
	}
	return err
}

func (n *AMQPNotifier) Close() error {
	return n.conn.Close()
}
