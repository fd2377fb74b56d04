// ABOUTME: Transport abstraction over the WhatsApp network client
// ABOUTME: Defines the lifecycle/message event variants and the send/teardown contract

package transport

import "context"

// Event is a tagged union of everything the transport can report.
// Concrete types: PairingIssued, Authenticated, Ready, AuthFailed,
// Disconnected, MessageReceived. Consumers switch on the concrete type
// and ignore anything they do not recognize.
type Event interface {
	isEvent()
}

// PairingIssued carries a fresh pairing code that must be scanned to
// authenticate a new session.
type PairingIssued struct {
	Code string
}

// Authenticated means credentials were accepted by the network.
type Authenticated struct{}

// Ready means the session is fully connected. Identity is the session's
// own number when the transport exposes it, empty otherwise.
type Ready struct {
	Identity string
}

// AuthFailed means the network rejected the session credentials.
type AuthFailed struct {
	Reason string
}

// Disconnected means the connection to the network was lost.
type Disconnected struct {
	Reason string
}

// MessageReceived carries one inbound message.
type MessageReceived struct {
	Message InboundMessage
}

func (PairingIssued) isEvent()   {}
func (Authenticated) isEvent()   {}
func (Ready) isEvent()           {}
func (AuthFailed) isEvent()      {}
func (Disconnected) isEvent()    {}
func (MessageReceived) isEvent() {}

// InboundMessage is one message received from the network. Constructed per
// event and consumed synchronously by the router; never persisted.
type InboundMessage struct {
	// ID is the network's message identifier, used for duplicate detection.
	ID string
	// Sender is the full network address of the sender, e.g.
	// "5551234@s.whatsapp.net".
	Sender string
	Body   string
	Kind   string
	// FromMe marks messages originated by this session itself.
	FromMe bool
}

// Transport is the connection to the WhatsApp network. Implementations must
// tolerate concurrent SendText callers. Destroy is idempotent.
type Transport interface {
	// Connect opens the connection and starts delivering events to the
	// handler the transport was created with.
	Connect(ctx context.Context) error

	// SendText delivers a text message to the given address.
	// Fire-and-forget: a nil return means the message was handed to the
	// network, not that it was delivered.
	SendText(ctx context.Context, to, text string) error

	// Destroy tears the connection down and releases resources.
	Destroy() error
}

// Factory builds a Transport that delivers events to handler. The session
// manager uses it to rebuild the transport on restart.
type Factory func(handler func(Event)) (Transport, error)
