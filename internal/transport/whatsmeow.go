// ABOUTME: whatsmeow-backed Transport implementation
// ABOUTME: Translates whatsmeow client events into the bridge's event variants

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// Whatsmeow is the production Transport. It owns a whatsmeow client backed
// by a SQLite device store, so credentials survive process restarts and a
// paired session reconnects without a new pairing code.
type Whatsmeow struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	handler   func(Event)
	logger    *slog.Logger

	destroyOnce sync.Once
}

// NewWhatsmeow opens (or creates) the device store at storePath and builds a
// client around the first stored device. Events start flowing only after
// Connect.
func NewWhatsmeow(ctx context.Context, storePath string, handler func(Event), logger *slog.Logger) (*Whatsmeow, error) {
	container, err := sqlstore.New(ctx, "sqlite3", "file:"+storePath+"?_foreign_keys=on", newWALogger(logger.With("component", "whatsmeow-store")))
	if err != nil {
		return nil, fmt.Errorf("opening device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("loading device: %w", err)
	}

	t := &Whatsmeow{
		container: container,
		handler:   handler,
		logger:    logger,
	}
	t.client = whatsmeow.NewClient(device, newWALogger(logger.With("component", "whatsmeow-client")))
	t.client.AddEventHandler(t.translate)

	return t, nil
}

// Connect opens the connection. For an unpaired device it first subscribes
// to the pairing channel so each issued code is surfaced as PairingIssued.
func (t *Whatsmeow) Connect(ctx context.Context) error {
	if t.client.Store.ID == nil {
		// GetQRChannel must be called before Connect on an unpaired client.
		qrChan, err := t.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("subscribing to pairing channel: %w", err)
		}
		go t.watchPairing(qrChan)
	}

	if err := t.client.Connect(); err != nil {
		return fmt.Errorf("connecting to whatsapp: %w", err)
	}
	return nil
}

// watchPairing forwards pairing codes until the channel closes. Success and
// failure are reported through the regular event handler, not here.
func (t *Whatsmeow) watchPairing(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			t.handler(PairingIssued{Code: item.Code})
		case "timeout":
			t.logger.Warn("pairing code expired without being scanned")
		}
	}
}

// translate maps whatsmeow events onto the bridge's event variants. Events
// with no mapping are dropped here so downstream consumers only ever see the
// bounded variant set.
func (t *Whatsmeow) translate(raw interface{}) {
	switch evt := raw.(type) {
	case *events.PairSuccess:
		t.handler(Authenticated{})
	case *events.Connected:
		var identity string
		if id := t.client.Store.ID; id != nil {
			identity = id.User
		}
		t.handler(Ready{Identity: identity})
	case *events.LoggedOut:
		t.handler(AuthFailed{Reason: fmt.Sprintf("logged out: %v", evt.Reason)})
	case *events.Disconnected:
		t.handler(Disconnected{Reason: "connection closed"})
	case *events.StreamReplaced:
		t.handler(Disconnected{Reason: "stream replaced by another session"})
	case *events.Message:
		t.handler(MessageReceived{Message: inboundFromEvent(evt)})
	}
}

// inboundFromEvent flattens a whatsmeow message event into an InboundMessage.
func inboundFromEvent(evt *events.Message) InboundMessage {
	body := evt.Message.GetConversation()
	if body == "" {
		body = evt.Message.GetExtendedTextMessage().GetText()
	}
	return InboundMessage{
		ID:     string(evt.Info.ID),
		Sender: evt.Info.Sender.ToNonAD().String(),
		Body:   body,
		Kind:   evt.Info.Type,
		FromMe: evt.Info.IsFromMe,
	}
}

// SendText delivers a plain text message. Safe for concurrent callers; the
// whatsmeow client serializes its own socket writes.
func (t *Whatsmeow) SendText(ctx context.Context, to, text string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("parsing recipient %q: %w", to, err)
	}

	_, err = t.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// Destroy disconnects and closes the device store. Idempotent.
func (t *Whatsmeow) Destroy() error {
	var err error
	t.destroyOnce.Do(func() {
		t.client.Disconnect()
		err = t.container.Close()
	})
	return err
}
