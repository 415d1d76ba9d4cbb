// Package notify adapts coordinator and scheduler outputs into the external
// push-notification and email pipelines. Nothing in here ever propagates a
// delivery failure back into the broadcast path.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Ticket is the opaque delivery receipt returned by the push provider.
type Ticket struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ErrNoToken signals that a user has no registered push token. Not a fault:
// the user simply is not reachable by push.
var ErrNoToken = errors.New("no push token registered")

// TokenStore resolves a user to their device push token.
type TokenStore interface {
	GetPushToken(ctx context.Context, userID string) (string, error)
}

// PushSender is the external push-notification collaborator.
type PushSender interface {
	SendPush(ctx context.Context, token, title, body string, data map[string]string) ([]Ticket, error)
}

// Bridge looks up whether a user is reachable by push token and forwards the
// notification if so. No token and send failure are both non-exceptional
// outcomes: the caller gets an empty ticket list either way.
type Bridge struct {
	tokens TokenStore
	sender PushSender
	logger *slog.Logger
}

func NewBridge(tokens TokenStore, sender PushSender, logger *slog.Logger) *Bridge {
	return &Bridge{
		tokens: tokens,
		sender: sender,
		logger: logger.With(slog.String("component", "notification_bridge")),
	}
}

// Notify sends one push notification to userID and returns whatever tickets
// the provider issued, possibly none.
func (b *Bridge) Notify(ctx context.Context, userID, title, body string, data map[string]string) []Ticket {
	token, err := b.tokens.GetPushToken(ctx, userID)
	if errors.Is(err, ErrNoToken) {
		b.logger.Debug("User has no push token, skipping", slog.String("userID", userID))
		return nil
	}
	if err != nil {
		b.logger.Error("Push token lookup failed", slog.String("userID", userID), slog.Any("error", err))
		return nil
	}

	tickets, err := b.sender.SendPush(ctx, token, title, body, data)
	if err != nil {
		b.logger.Error("Push delivery failed", slog.String("userID", userID), slog.Any("error", err))
		return nil
	}
	return tickets
}

// Push is the fire-and-forget form used by the ride-stop coordinator, which
// has no use for tickets.
func (b *Bridge) Push(ctx context.Context, userID, title, body string, data map[string]string) {
	b.Notify(ctx, userID, title, body, data)
}
