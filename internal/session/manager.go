// ABOUTME: Manager owns the single transport instance and its lifecycle
// ABOUTME: Handles delayed init, restart with teardown, and outbound sends

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/saaschat/whatsapp-bridge/internal/transport"
)

// ErrNotReady is returned by SendText while no connected session exists.
var ErrNotReady = errors.New("whatsapp session is not ready")

// MessageHandler receives inbound messages dispatched by the manager.
type MessageHandler func(ctx context.Context, msg transport.InboundMessage)

// Manager owns the process's one transport instance. It is the only
// component that creates or destroys transports, and the only writer of
// session state. Events from a transport that has been torn down are
// dropped: no session exists that could have produced them.
type Manager struct {
	state        *State
	factory      transport.Factory
	initDelay    time.Duration
	restartDelay time.Duration
	logger       *slog.Logger

	onMessage MessageHandler

	mu     sync.Mutex
	tr     transport.Transport
	ctx    context.Context
	closed bool
}

// NewManager creates a Manager around the given state and transport factory.
func NewManager(state *State, factory transport.Factory, initDelay, restartDelay time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		state:        state,
		factory:      factory,
		initDelay:    initDelay,
		restartDelay: restartDelay,
		logger:       logger,
		ctx:          context.Background(),
	}
}

// SetMessageHandler installs the inbound message handler. Must be called
// before Start.
func (m *Manager) SetMessageHandler(h MessageHandler) {
	m.onMessage = h
}

// Start schedules transport initialization after the configured grace
// period. The control API is expected to be listening already; the delay
// matches the original service's deliberate startup lag.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	m.logger.Info("scheduling whatsapp client initialization", "delay", m.initDelay)
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(m.initDelay):
			m.initialize()
		}
	}()
}

// initialize builds and connects a new transport. No-op when a transport
// already exists or the manager has shut down, which makes double-scheduled
// restarts harmless.
func (m *Manager) initialize() {
	m.mu.Lock()
	if m.closed || m.tr != nil || m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}

	var tr transport.Transport
	handler := func(evt transport.Event) {
		m.dispatch(tr, evt)
	}

	tr, err := m.factory(handler)
	if err != nil {
		m.mu.Unlock()
		m.logger.Error("creating whatsapp transport", "error", err)
		return
	}
	m.tr = tr
	ctx := m.ctx
	m.mu.Unlock()

	m.logger.Info("initializing whatsapp client")
	if err := tr.Connect(ctx); err != nil {
		m.logger.Error("connecting whatsapp client", "error", err)
		m.dropTransport(tr)
	}
}

// dropTransport destroys a transport that failed to connect and clears it
// if it is still the current one, so a later restart starts clean.
func (m *Manager) dropTransport(tr transport.Transport) {
	m.mu.Lock()
	if m.tr == tr {
		m.tr = nil
	}
	m.mu.Unlock()

	if err := tr.Destroy(); err != nil {
		m.logger.Error("destroying whatsapp transport", "error", err)
	}
}

// dispatch routes one event from a specific transport instance. Events from
// a transport that is no longer current (torn down mid-restart) are dropped.
func (m *Manager) dispatch(src transport.Transport, evt transport.Event) {
	m.mu.Lock()
	current := m.tr == src && src != nil
	ctx := m.ctx
	m.mu.Unlock()

	if !current {
		m.logger.Debug("dropping event from torn-down transport")
		return
	}

	if msg, ok := evt.(transport.MessageReceived); ok {
		if m.onMessage != nil {
			// Routing does its own network round trips; never block the
			// transport's event delivery on them.
			go m.onMessage(ctx, msg.Message)
		}
		return
	}

	m.state.Apply(evt)
}

// Restart tears down the current transport, resets session state, and
// schedules re-initialization. It never fails: teardown errors are logged
// and the restart proceeds. Safe to call repeatedly.
func (m *Manager) Restart() {
	m.mu.Lock()
	tr := m.tr
	m.tr = nil
	closed := m.closed
	m.mu.Unlock()

	if tr != nil {
		if err := tr.Destroy(); err != nil {
			m.logger.Error("destroying whatsapp transport", "error", err)
		}
	}

	m.state.Reset()

	if closed {
		return
	}
	m.logger.Info("restarting whatsapp client", "delay", m.restartDelay)
	time.AfterFunc(m.restartDelay, m.initialize)
}

// Shutdown tears the transport down for good. Called on process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	tr := m.tr
	m.tr = nil
	m.mu.Unlock()

	if tr != nil {
		if err := tr.Destroy(); err != nil {
			m.logger.Error("destroying whatsapp transport", "error", err)
		}
	}
	m.state.Reset()
}

// SendText sends a message through the current transport. Fails with
// ErrNotReady unless the session is connected.
func (m *Manager) SendText(ctx context.Context, to, text string) error {
	m.mu.Lock()
	tr := m.tr
	m.mu.Unlock()

	if tr == nil || m.state.Status() != StatusConnected {
		return ErrNotReady
	}
	return tr.SendText(ctx, to, text)
}

// Status reports the current session status.
func (m *Manager) Status() Status { return m.state.Status() }

// PairingArtifact reports the current pairing artifact, if any.
func (m *Manager) PairingArtifact() (PairingArtifact, bool) { return m.state.PairingArtifact() }

// Identity reports the connected number, if known.
func (m *Manager) Identity() (string, bool) { return m.state.Identity() }
