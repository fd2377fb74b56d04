// ABOUTME: Routes inbound WhatsApp messages by sender association
// ABOUTME: Unknown senders get the welcome text, associated senders go to the forwarder

// Package router decides what happens to each inbound message: drop it
// (self-originated or re-delivered), answer with the default welcome, or
// hand it to the chat engine via the forwarder. Every message terminates in
// at most one outbound send or silence; no failure escapes into the
// transport's event path.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/saaschat/whatsapp-bridge/internal/backend"
	"github.com/saaschat/whatsapp-bridge/internal/transport"
)

// welcomeText is sent to senders whose number is not associated with any
// configured chat.
const welcomeText = `Hello! 👋

This number is not set up with a personalized assistant yet.

To configure your automated assistant, visit your account dashboard.

If you have questions, please contact support.`

// Resolver looks up the chat associated with a normalized phone number.
type Resolver interface {
	FindChat(ctx context.Context, phoneNumber string) (*backend.Chat, error)
}

// Sender delivers outbound messages through the WhatsApp session.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
}

// DuplicateChecker reports whether a message ID was already handled.
type DuplicateChecker interface {
	Seen(id string) bool
}

// Router consumes inbound messages and dispatches them.
type Router struct {
	resolver  Resolver
	forwarder *Forwarder
	sender    Sender
	seen      DuplicateChecker
	logger    *slog.Logger
}

// New creates a Router.
func New(resolver Resolver, forwarder *Forwarder, sender Sender, seen DuplicateChecker, logger *slog.Logger) *Router {
	return &Router{
		resolver:  resolver,
		forwarder: forwarder,
		sender:    sender,
		seen:      seen,
		logger:    logger,
	}
}

// Dispatch handles one inbound message end to end. It never returns an
// error: resolution failures degrade to the welcome path and send failures
// are logged.
func (r *Router) Dispatch(ctx context.Context, msg transport.InboundMessage) {
	if msg.FromMe {
		return
	}
	if msg.ID != "" && r.seen != nil && r.seen.Seen(msg.ID) {
		r.logger.Debug("dropping re-delivered message", "message_id", msg.ID)
		return
	}

	logger := r.logger.With("trace_id", uuid.NewString())
	logger.Info("message received",
		"from", msg.Sender,
		"kind", msg.Kind,
		"length", len(msg.Body),
	)

	phone := NormalizeSender(msg.Sender)

	chat, err := r.resolver.FindChat(ctx, phone)
	if errors.Is(err, backend.ErrNotAssociated) {
		r.sendWelcome(ctx, logger, msg.Sender)
		return
	}
	if err != nil {
		// Degrade rather than block: an unreachable backend routes the
		// sender to the welcome path.
		logger.Error("chat lookup failed", "phone", phone, "error", err)
		r.sendWelcome(ctx, logger, msg.Sender)
		return
	}

	r.forwarder.Forward(ctx, logger, chat, msg)
}

// sendWelcome sends the fixed welcome text to an unassociated sender.
func (r *Router) sendWelcome(ctx context.Context, logger *slog.Logger, to string) {
	if err := r.sender.SendText(ctx, to, welcomeText); err != nil {
		logger.Error("sending welcome message", "to", to, "error", err)
	}
}

// NormalizeSender strips the network server suffix from a sender address,
// leaving the bare phone number ("5551234@s.whatsapp.net" -> "5551234").
func NormalizeSender(sender string) string {
	if i := strings.IndexByte(sender, '@'); i >= 0 {
		return sender[:i]
	}
	return sender
}
