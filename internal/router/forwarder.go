// ABOUTME: Forwards associated-sender messages to the chat engine
// ABOUTME: Relays the engine's reply, or the fixed apology on any failure

package router

import (
	"context"
	"log/slog"

	"github.com/saaschat/whatsapp-bridge/internal/backend"
	"github.com/saaschat/whatsapp-bridge/internal/engine"
	"github.com/saaschat/whatsapp-bridge/internal/transport"
)

// apologyText is sent when the chat engine fails to produce a reply.
const apologyText = "Sorry, something went wrong. Please try again in a few moments."

// sourceTag identifies this channel to the chat engine.
const sourceTag = "whatsapp"

// Engine processes a routed message and returns the optional reply.
type Engine interface {
	Process(ctx context.Context, req *engine.MessageRequest) (*engine.Reply, error)
}

// Forwarder packages routed messages for the chat engine and relays replies
// back through the session.
type Forwarder struct {
	engine Engine
	sender Sender
	logger *slog.Logger
}

// NewForwarder creates a Forwarder.
func NewForwarder(eng Engine, sender Sender, logger *slog.Logger) *Forwarder {
	return &Forwarder{engine: eng, sender: sender, logger: logger}
}

// Forward sends one message to the chat engine. A non-empty reply is relayed
// verbatim to the sender; an empty reply means deliberate silence; any
// failure becomes the apology text. Nothing propagates back to the caller.
func (f *Forwarder) Forward(ctx context.Context, logger *slog.Logger, chat *backend.Chat, msg transport.InboundMessage) {
	req := &engine.MessageRequest{
		ChatID:         chat.ChatID,
		ConversationID: ConversationKey(msg.Sender),
		Message:        msg.Body,
		Source:         sourceTag,
		PhoneNumber:    NormalizeSender(msg.Sender),
	}

	reply, err := f.engine.Process(ctx, req)
	if err != nil {
		logger.Error("chat engine call failed", "chat_id", chat.ChatID, "error", err)
		if sendErr := f.sender.SendText(ctx, msg.Sender, apologyText); sendErr != nil {
			logger.Error("sending apology message", "to", msg.Sender, "error", sendErr)
		}
		return
	}

	if reply.Response == "" {
		logger.Debug("engine returned no reply", "chat_id", chat.ChatID)
		return
	}

	if err := f.sender.SendText(ctx, msg.Sender, reply.Response); err != nil {
		logger.Error("relaying engine reply", "to", msg.Sender, "error", err)
		return
	}
	logger.Info("reply relayed", "chat_id", chat.ChatID, "length", len(reply.Response))
}

// ConversationKey derives the stable conversation identifier for a sender.
// Deterministic: every message from the same sender maps to the same key.
func ConversationKey(sender string) string {
	return "wa_" + sender
}
