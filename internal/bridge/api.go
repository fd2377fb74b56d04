// ABOUTME: Control API handlers for health, status, QR, restart, test sends, association
// ABOUTME: Thin JSON layer over session state and the backend association client

package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/saaschat/whatsapp-bridge/internal/session"
	"github.com/saaschat/whatsapp-bridge/internal/transport"
)

// serviceName identifies this service in health responses.
const serviceName = "whatsapp-bridge"

// sessionControl is the slice of the session manager the API needs.
// Narrowed to an interface so handler tests can inject a fake session.
type sessionControl interface {
	Start(ctx context.Context)
	Status() session.Status
	PairingArtifact() (session.PairingArtifact, bool)
	Identity() (string, bool)
	SendText(ctx context.Context, to, text string) error
	Restart()
	Shutdown()
}

// associator writes phone-to-chat associations via the backend.
type associator interface {
	Associate(ctx context.Context, phoneNumber, chatID string) ([]byte, error)
}

// SendTestRequest is the JSON body for POST /api/whatsapp/send-test.
type SendTestRequest struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
}

// AssociateRequest is the JSON body for POST /api/whatsapp/associate.
type AssociateRequest struct {
	PhoneNumber string `json:"phone_number"`
	ChatID      string `json:"chat_id"`
}

// registerRoutes installs all control API routes on the mux.
func (b *Bridge) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", b.handleHealth)
	mux.HandleFunc("/api/whatsapp/status", b.handleStatus)
	mux.HandleFunc("/api/whatsapp/qr", b.handleQR)
	mux.HandleFunc("/api/whatsapp/restart", b.handleRestart)
	mux.HandleFunc("/api/whatsapp/send-test", b.handleSendTest)
	mux.HandleFunc("/api/whatsapp/associate", b.handleAssociate)
}

// handleHealth handles GET /health.
func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := b.session.Status()
	b.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": serviceName,
		"version": b.version,
		"whatsapp": map[string]interface{}{
			"connected":        status == session.StatusConnected,
			"session_status":   status,
			"connected_number": b.identityOrNil(),
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus handles GET /api/whatsapp/status.
func (b *Bridge) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := b.session.Status()
	_, qrAvailable := b.session.PairingArtifact()
	b.sendJSON(w, http.StatusOK, map[string]interface{}{
		"connected":        status == session.StatusConnected,
		"session_status":   status,
		"connected_number": b.identityOrNil(),
		"qr_available":     qrAvailable,
	})
}

// handleQR handles GET /api/whatsapp/qr. While rendering is still in
// flight the raw code is returned with an empty image; that is "not yet
// available", not an error.
func (b *Bridge) handleQR(w http.ResponseWriter, r *http.Request) {
	artifact, ok := b.session.PairingArtifact()
	if !ok {
		b.sendJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":          "QR code not available",
			"session_status": b.session.Status(),
		})
		return
	}

	b.sendJSON(w, http.StatusOK, map[string]interface{}{
		"qr_code":        artifact.Code,
		"qr_image":       artifact.ImageDataURL,
		"session_status": b.session.Status(),
	})
}

// handleRestart handles POST /api/whatsapp/restart.
func (b *Bridge) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	b.session.Restart()
	b.sendJSON(w, http.StatusOK, map[string]string{
		"message": "restarting whatsapp connection",
	})
}

// handleSendTest handles POST /api/whatsapp/send-test.
func (b *Bridge) handleSendTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req SendTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		b.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PhoneNumber == "" || req.Message == "" {
		b.sendJSONError(w, http.StatusBadRequest, "phone_number and message are required")
		return
	}

	to := transport.FormatRecipient(req.PhoneNumber)
	if err := b.session.SendText(r.Context(), to, req.Message); err != nil {
		b.logger.Error("test send failed", "to", to, "error", err)
		b.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	b.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "message sent",
	})
}

// handleAssociate handles POST /api/whatsapp/associate. The backend's
// response body is relayed verbatim.
func (b *Bridge) handleAssociate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req AssociateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		b.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PhoneNumber == "" || req.ChatID == "" {
		b.sendJSONError(w, http.StatusBadRequest, "phone_number and chat_id are required")
		return
	}

	respBody, err := b.associator.Associate(r.Context(), req.PhoneNumber, req.ChatID)
	if err != nil {
		b.logger.Error("associate failed", "phone", req.PhoneNumber, "chat_id", req.ChatID, "error", err)
		b.sendJSONError(w, http.StatusInternalServerError, "failed to associate number with chat")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(respBody)
}

// identityOrNil returns the connected number or nil so JSON renders null
// when no session is connected.
func (b *Bridge) identityOrNil() interface{} {
	if identity, ok := b.session.Identity(); ok {
		return identity
	}
	return nil
}

// recoverMiddleware converts handler panics into a generic 500. A single
// bad request must never take down the process that owns the session.
func (b *Bridge) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				b.logger.Error("panic in request handler", "path", r.URL.Path, "panic", rec)
				b.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// sendJSON writes a JSON response with the given status.
func (b *Bridge) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		b.logger.Error("encoding response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (b *Bridge) sendJSONError(w http.ResponseWriter, status int, message string) {
	b.sendJSON(w, status, map[string]string{"error": message})
}
