// Package notify pushes conversation changes to connected observers. The
// pushes are fire and forget: a failed publish is logged by the caller and
// never reverses the state transition that produced it.
package notify

import (
	"context"

	"github.com/conversia/backend/internal/models"
)

type Notifier interface {
	ConversationUpdated(ctx context.Context, c models.Conversation) error
	SystemMessage(ctx context.Context, ev models.SystemEvent) error
	Close() error
}

// Noop stands in when no broker is configured (local development, tests).
type Noop struct{}

func (Noop) ConversationUpdated(ctx context.Context, c models.Conversation) error { return nil }
func (Noop) SystemMessage(ctx context.Context, ev models.SystemEvent) error       { return nil }
func (Noop) Close() error                                                         { return nil }
