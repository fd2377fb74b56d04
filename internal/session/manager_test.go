// ABOUTME: Tests for the transport lifecycle manager
// ABOUTME: Covers delayed init, restart idempotence, stale event dropping, and sends

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaschat/whatsapp-bridge/internal/transport"
)

type sentMessage struct {
	To   string
	Text string
}

// fakeTransport records calls and lets tests push events through the
// handler the factory captured for it.
type fakeTransport struct {
	mu         sync.Mutex
	connects   int
	destroys   int
	sent       []sentMessage
	connectErr error
	sendErr    error
	destroyErr error
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeTransport) SendText(ctx context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{To: to, Text: text})
	return nil
}

func (f *fakeTransport) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys++
	return f.destroyErr
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) destroyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroys
}

func (f *fakeTransport) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// fakeFactory builds fakeTransports and remembers each instance with the
// handler the manager registered for it.
type fakeFactory struct {
	mu        sync.Mutex
	instances []*fakeTransport
	handlers  []func(transport.Event)
	err       error
}

func (f *fakeFactory) factory(handler func(transport.Event)) (transport.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	tr := &fakeTransport{}
	f.instances = append(f.instances, tr)
	f.handlers = append(f.handlers, handler)
	return tr, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

func (f *fakeFactory) instance(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances[i]
}

func (f *fakeFactory) handler(i int) func(transport.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[i]
}

func newTestManager(t *testing.T, factory *fakeFactory) (*Manager, *State) {
	t.Helper()
	state := newTestState()
	mgr := NewManager(state, factory.factory, 5*time.Millisecond, 5*time.Millisecond, testLogger())
	return mgr, state
}

func waitForInstances(t *testing.T, factory *fakeFactory, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return factory.count() >= n }, time.Second, time.Millisecond)
}

func TestManager_StartInitializesAfterDelay(t *testing.T) {
	factory := &fakeFactory{}
	mgr, _ := newTestManager(t, factory)
	defer mgr.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.Start(ctx)
	assert.Equal(t, 0, factory.count(), "init must wait for the grace period")

	waitForInstances(t, factory, 1)
	require.Eventually(t, func() bool { return factory.instance(0).connectCount() == 1 }, time.Second, time.Millisecond)
}

func TestManager_StartCanceledContextSkipsInit(t *testing.T) {
	factory := &fakeFactory{}
	mgr, _ := newTestManager(t, factory)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)
	cancel()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, factory.count())
}

func TestManager_LifecycleEventsReachState(t *testing.T) {
	factory := &fakeFactory{}
	mgr, state := newTestManager(t, factory)
	defer mgr.Shutdown()

	mgr.Start(context.Background())
	waitForInstances(t, factory, 1)

	handler := factory.handler(0)
	handler(transport.PairingIssued{Code: "T1"})
	assert.Equal(t, StatusConnecting, state.Status())

	handler(transport.Ready{Identity: "5551234"})
	assert.Equal(t, StatusConnected, state.Status())
	identity, ok := state.Identity()
	require.True(t, ok)
	assert.Equal(t, "5551234", identity)
}

func TestManager_MessagesReachHandler(t *testing.T) {
	factory := &fakeFactory{}
	mgr, _ := newTestManager(t, factory)
	defer mgr.Shutdown()

	received := make(chan transport.InboundMessage, 1)
	mgr.SetMessageHandler(func(ctx context.Context, msg transport.InboundMessage) {
		received <- msg
	})

	mgr.Start(context.Background())
	waitForInstances(t, factory, 1)

	factory.handler(0)(transport.MessageReceived{Message: transport.InboundMessage{
		ID:     "m1",
		Sender: "5551234@s.whatsapp.net",
		Body:   "hello",
	}})

	select {
	case msg := <-received:
		assert.Equal(t, "hello", msg.Body)
	case <-time.After(time.Second):
		t.Fatal("message never reached handler")
	}
}

func TestManager_SendTextNotReady(t *testing.T) {
	factory := &fakeFactory{}
	mgr, _ := newTestManager(t, factory)

	err := mgr.SendText(context.Background(), "5551234@s.whatsapp.net", "hi")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestManager_SendTextNotReadyBeforeConnected(t *testing.T) {
	factory := &fakeFactory{}
	mgr, _ := newTestManager(t, factory)
	defer mgr.Shutdown()

	mgr.Start(context.Background())
	waitForInstances(t, factory, 1)

	// Transport exists but the session never reported ready.
	err := mgr.SendText(context.Background(), "5551234@s.whatsapp.net", "hi")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestManager_SendTextDelegates(t *testing.T) {
	factory := &fakeFactory{}
	mgr, _ := newTestManager(t, factory)
	defer mgr.Shutdown()

	mgr.Start(context.Background())
	waitForInstances(t, factory, 1)
	factory.handler(0)(transport.Ready{Identity: "5551234"})

	require.NoError(t, mgr.SendText(context.Background(), "5559999@s.whatsapp.net", "hi"))

	sent := factory.instance(0).sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "5559999@s.whatsapp.net", sent[0].To)
	assert.Equal(t, "hi", sent[0].Text)
}

func TestManager_RestartTearsDownAndReinitializes(t *testing.T) {
	factory := &fakeFactory{}
	mgr, state := newTestManager(t, factory)
	defer mgr.Shutdown()

	mgr.Start(context.Background())
	waitForInstances(t, factory, 1)
	factory.handler(0)(transport.Ready{Identity: "5551234"})

	mgr.Restart()

	assert.Equal(t, 1, factory.instance(0).destroyCount())
	assert.Equal(t, StatusDisconnected, state.Status())
	_, ok := state.Identity()
	assert.False(t, ok)

	waitForInstances(t, factory, 2)
	require.Eventually(t, func() bool { return factory.instance(1).connectCount() == 1 }, time.Second, time.Millisecond)
}

func TestManager_RestartTwiceIsSafe(t *testing.T) {
	factory := &fakeFactory{}
	mgr, state := newTestManager(t, factory)
	defer mgr.Shutdown()

	mgr.Start(context.Background())
	waitForInstances(t, factory, 1)
	factory.handler(0)(transport.PairingIssued{Code: "T1"})
	factory.handler(0)(transport.Ready{Identity: "5551234"})

	mgr.Restart()
	mgr.Restart()

	_, ok := state.PairingArtifact()
	assert.False(t, ok)
	_, ok = state.Identity()
	assert.False(t, ok)
	assert.Equal(t, 1, factory.instance(0).destroyCount(), "destroy is idempotent across restarts")

	// Both restarts schedule re-init, but only one new transport is built.
	waitForInstances(t, factory, 2)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, factory.count())
}

func TestManager_RestartProceedsWhenTeardownFails(t *testing.T) {
	factory := &fakeFactory{}
	mgr, state := newTestManager(t, factory)
	defer mgr.Shutdown()

	mgr.Start(context.Background())
	waitForInstances(t, factory, 1)
	factory.instance(0).destroyErr = errors.New("teardown failed")

	mgr.Restart()

	assert.Equal(t, StatusDisconnected, state.Status())
	waitForInstances(t, factory, 2)
}

func TestManager_EventsFromTornDownTransportAreDropped(t *testing.T) {
	factory := &fakeFactory{}
	state := newTestState()
	// Long restart delay keeps the window between teardown and re-init open.
	mgr := NewManager(state, factory.factory, time.Millisecond, time.Hour, testLogger())
	defer mgr.Shutdown()

	received := make(chan transport.InboundMessage, 1)
	mgr.SetMessageHandler(func(ctx context.Context, msg transport.InboundMessage) {
		received <- msg
	})

	mgr.Start(context.Background())
	waitForInstances(t, factory, 1)
	staleHandler := factory.handler(0)

	mgr.Restart()

	staleHandler(transport.Ready{Identity: "5551234"})
	staleHandler(transport.MessageReceived{Message: transport.InboundMessage{Body: "late"}})

	assert.Equal(t, StatusDisconnected, state.Status(), "stale lifecycle events must not mutate state")
	select {
	case <-received:
		t.Fatal("stale message should have been dropped")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestManager_ShutdownDestroysAndStopsReinit(t *testing.T) {
	factory := &fakeFactory{}
	mgr, _ := newTestManager(t, factory)

	mgr.Start(context.Background())
	waitForInstances(t, factory, 1)

	mgr.Shutdown()
	assert.Equal(t, 1, factory.instance(0).destroyCount())

	// Shutdown wins over any pending re-init.
	mgr.Restart()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, factory.count())
}

func TestManager_ConnectFailureClearsTransport(t *testing.T) {
	factory := &fakeFactory{}
	state := newTestState()
	mgr := NewManager(state, func(handler func(transport.Event)) (transport.Transport, error) {
		tr := &fakeTransport{connectErr: errors.New("dial failed")}
		factory.mu.Lock()
		factory.instances = append(factory.instances, tr)
		factory.handlers = append(factory.handlers, handler)
		factory.mu.Unlock()
		return tr, nil
	}, time.Millisecond, time.Millisecond, testLogger())
	defer mgr.Shutdown()

	mgr.Start(context.Background())
	waitForInstances(t, factory, 1)

	require.Eventually(t, func() bool { return factory.instance(0).destroyCount() == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, mgr.SendText(context.Background(), "x@s.whatsapp.net", "hi"), ErrNotReady)
}
