// Package compose sends user-authored shouts: a stateless one-shot operation
// that authenticates, posts, and nudges the sync engine to pick the message
// up immediately.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"autemo-sync/account"
)

// Sender posts an already-chunked message to the remote shoutbox.
type Sender interface {
	SendPost(ctx context.Context, token, message string) (int, error)
}

// TokenSource supplies session tokens for the send.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Resyncer is poked after a successful send so the poster sees their own
// message without waiting for the next scheduled poll.
type Resyncer interface {
	Resync()
}

// Composer is the one-shot "send a chat line" operation.
type Composer struct {
	sender Sender
	tokens TokenSource
	engine Resyncer
	logger *slog.Logger
}

// New creates a composer.
func New(sender Sender, tokens TokenSource, engine Resyncer, logger *slog.Logger) *Composer {
	return &Composer{
		sender: sender,
		tokens: tokens,
		engine: engine,
		logger: logger,
	}
}

// Send posts text to the shoutbox. Sending assumes an account already
// exists; a missing account is a contract violation and is returned as
// account.ErrNoAccount. A non-success remote status is only logged; the
// failed line simply never appears, matching the remote's own silence.
func (c *Composer) Send(ctx context.Context, text string) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, account.ErrNoAccount) {
			c.logger.Error("Send attempted without a configured account", "error", err)
			return err
		}
		return fmt.Errorf("acquire token: %w", err)
	}

	status, err := c.sender.SendPost(ctx, token, text)
	if err != nil {
		return fmt.Errorf("send shout: %w", err)
	}

	if status != http.StatusOK {
		c.logger.Warn("Shout send returned non-OK status", "status_code", status)
		return nil
	}

	c.engine.Resync()
	return nil
}
