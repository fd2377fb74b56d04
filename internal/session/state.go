// ABOUTME: Single-writer holder for WhatsApp session status, pairing artifact, and identity
// ABOUTME: Applies transport lifecycle events per the session transition table

package session

import (
	"log/slog"
	"sync"

	"github.com/saaschat/whatsapp-bridge/internal/transport"
)

// Status is the lifecycle state of the WhatsApp session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// PairingArtifact is the pairing code and its rendered QR image. The image
// is filled in asynchronously after the code is issued; an empty ImageDataURL
// means "not rendered yet", never an error.
type PairingArtifact struct {
	Code         string
	ImageDataURL string
}

// State holds the session's mutable lifecycle data. All mutation goes
// through Apply and Reset; readers get copies. Two transport events arriving
// close together can never interleave into an inconsistent state.
type State struct {
	mu       sync.Mutex
	status   Status
	artifact *PairingArtifact
	identity string

	render renderFunc
	logger *slog.Logger
}

// renderFunc renders a pairing code to an image data URL. Injectable so
// tests can control rendering completion.
type renderFunc func(code string) (string, error)

// NewState returns a State in the disconnected status using the default QR
// renderer.
func NewState(logger *slog.Logger) *State {
	return newStateWithRenderer(logger, renderQRDataURL)
}

func newStateWithRenderer(logger *slog.Logger, render renderFunc) *State {
	return &State{
		status: StatusDisconnected,
		render: render,
		logger: logger,
	}
}

// Apply consumes one transport event and performs the corresponding state
// transition. It never fails: every lifecycle event is expected, and
// unrecognized events are ignored.
func (s *State) Apply(evt transport.Event) {
	switch e := evt.(type) {
	case transport.PairingIssued:
		s.mu.Lock()
		s.status = StatusConnecting
		s.artifact = &PairingArtifact{Code: e.Code}
		s.mu.Unlock()
		s.logger.Info("pairing code issued")
		go s.renderArtifact(e.Code)

	case transport.Authenticated:
		s.mu.Lock()
		s.status = StatusConnected
		s.mu.Unlock()
		s.logger.Info("session authenticated")

	case transport.Ready:
		s.mu.Lock()
		s.status = StatusConnected
		s.artifact = nil
		if e.Identity != "" {
			s.identity = e.Identity
		}
		s.mu.Unlock()
		s.logger.Info("session ready", "identity", e.Identity)

	case transport.AuthFailed:
		s.mu.Lock()
		s.status = StatusError
		s.artifact = nil
		s.mu.Unlock()
		s.logger.Error("authentication failed", "reason", e.Reason)

	case transport.Disconnected:
		s.mu.Lock()
		s.status = StatusDisconnected
		s.identity = ""
		s.mu.Unlock()
		s.logger.Warn("session disconnected", "reason", e.Reason)
	}
}

// renderArtifact renders the QR image and patches it into the artifact,
// but only while the same code is still current. A reader in between sees
// the raw code with no image yet.
func (s *State) renderArtifact(code string) {
	image, err := s.render(code)
	if err != nil {
		s.logger.Error("rendering pairing code image", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact != nil && s.artifact.Code == code {
		s.artifact.ImageDataURL = image
	}
}

// Reset returns the state to disconnected and clears the pairing artifact
// and identity. Used by restart before the transport is rebuilt.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusDisconnected
	s.artifact = nil
	s.identity = ""
}

// Status returns the current session status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// PairingArtifact returns a copy of the current pairing artifact, if any.
func (s *State) PairingArtifact() (PairingArtifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact == nil {
		return PairingArtifact{}, false
	}
	return *s.artifact, true
}

// Identity returns the connected number, if known.
func (s *State) Identity() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == "" {
		return "", false
	}
	return s.identity, true
}
