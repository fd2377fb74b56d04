// ABOUTME: Tests for chat engine forwarding and reply relay
// ABOUTME: Covers verbatim relay, deliberate silence, and the apology path

package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaschat/whatsapp-bridge/internal/backend"
	"github.com/saaschat/whatsapp-bridge/internal/engine"
)

func TestForward_ReplyRelayedVerbatim(t *testing.T) {
	eng := &mockEngine{reply: &engine.Reply{Response: "reply with  spacing\nand newlines"}}
	sender := &mockSender{}
	fwd := NewForwarder(eng, sender, testLogger())

	chat := &backend.Chat{ChatID: "chat-1"}
	fwd.Forward(context.Background(), testLogger(), chat, inbound("m1", "5551234@s.whatsapp.net", "hi"))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "5551234@s.whatsapp.net", sender.sent[0].To)
	assert.Equal(t, "reply with  spacing\nand newlines", sender.sent[0].Text)
}

func TestForward_EmptyReplyMeansSilence(t *testing.T) {
	eng := &mockEngine{reply: &engine.Reply{}}
	sender := &mockSender{}
	fwd := NewForwarder(eng, sender, testLogger())

	fwd.Forward(context.Background(), testLogger(), &backend.Chat{ChatID: "chat-1"}, inbound("m1", "5551234@s.whatsapp.net", "hi"))

	assert.Empty(t, sender.sent, "empty engine reply must not produce an outbound send")
}

func TestForward_EngineFailureSendsApology(t *testing.T) {
	eng := &mockEngine{err: errors.New("engine timeout")}
	sender := &mockSender{}
	fwd := NewForwarder(eng, sender, testLogger())

	fwd.Forward(context.Background(), testLogger(), &backend.Chat{ChatID: "chat-1"}, inbound("m1", "5551234@s.whatsapp.net", "hi"))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, apologyText, sender.sent[0].Text)
}

func TestForward_ApologySendFailureDoesNotPanic(t *testing.T) {
	eng := &mockEngine{err: errors.New("engine timeout")}
	sender := &mockSender{err: errors.New("session not ready")}
	fwd := NewForwarder(eng, sender, testLogger())

	fwd.Forward(context.Background(), testLogger(), &backend.Chat{ChatID: "chat-1"}, inbound("m1", "5551234@s.whatsapp.net", "hi"))

	assert.Empty(t, sender.sent)
}

func TestForward_RequestFields(t *testing.T) {
	eng := &mockEngine{reply: &engine.Reply{}}
	fwd := NewForwarder(eng, &mockSender{}, testLogger())

	fwd.Forward(context.Background(), testLogger(), &backend.Chat{ChatID: "chat-7"}, inbound("m1", "5559999@s.whatsapp.net", "hello there"))

	require.Len(t, eng.calls, 1)
	req := eng.calls[0]
	assert.Equal(t, "chat-7", req.ChatID)
	assert.Equal(t, "wa_5559999@s.whatsapp.net", req.ConversationID)
	assert.Equal(t, "hello there", req.Message)
	assert.Equal(t, "whatsapp", req.Source)
	assert.Equal(t, "5559999", req.PhoneNumber)
}

func TestConversationKey_Deterministic(t *testing.T) {
	assert.Equal(t, "wa_5551234@s.whatsapp.net", ConversationKey("5551234@s.whatsapp.net"))
	assert.Equal(t, ConversationKey("5551234@s.whatsapp.net"), ConversationKey("5551234@s.whatsapp.net"))
}
