// Package presence tracks ephemeral advisor availability in Redis. Online
// state and the current status action live outside the relational store on
// purpose: they are volatile, written on every advisor heartbeat, and losing
// them on a Redis restart only delays distribution by one cycle.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActionRedirect marks an advisor that is signed in but not receiving new
// conversations (on break, wrapping up, etc.).
const ActionRedirect = "redirect"

const keyTTL = 24 * time.Hour

type Tracker struct {
	client *redis.Client
}

func New(redisURL string) (*Tracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Tracker{client: client}, nil
}

func (t *Tracker) Close() error {
	return t.client.Close()
}

func key(advisorID string) string {
	return "presence:" + advisorID
}

func (t *Tracker) SetOnline(ctx context.Context, advisorID string, online bool) error {
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key(advisorID), "online", online)
	pipe.Expire(ctx, key(advisorID), keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (t *Tracker) SetAction(ctx context.Context, advisorID, action string) error {
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key(advisorID), "action", action)
	pipe.Expire(ctx, key(advisorID), keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Receiving reports whether an advisor may be handed new conversations:
// online and not redirected away. Unknown advisors are not receiving.
func (t *Tracker) Receiving(ctx context.Context, advisorID string) (bool, error) {
	fields, err := t.client.HGetAll(ctx, key(advisorID)).Result()
	if err != nil {
		return false, err
	}
	if fields["online"] != "1" {
		return false, nil
	}
	return fields["action"] != ActionRedirect, nil
}
