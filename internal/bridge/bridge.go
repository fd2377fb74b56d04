// ABOUTME: Bridge orchestrator wiring session manager, router, and control API
// ABOUTME: Manages listener setup (TCP or Tailscale) and graceful shutdown

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/saaschat/whatsapp-bridge/internal/backend"
	"github.com/saaschat/whatsapp-bridge/internal/config"
	"github.com/saaschat/whatsapp-bridge/internal/dedupe"
	"github.com/saaschat/whatsapp-bridge/internal/engine"
	"github.com/saaschat/whatsapp-bridge/internal/router"
	"github.com/saaschat/whatsapp-bridge/internal/session"
	"github.com/saaschat/whatsapp-bridge/internal/transport"
)

// dedupeTTL and dedupeMaxSize bound the inbound message dedupe cache.
const (
	dedupeTTL     = 5 * time.Minute
	dedupeMaxSize = 100_000
)

// Bridge orchestrates the whatsapp-bridge components: the session manager
// owning the one WhatsApp transport, the message router, and the control
// API server.
type Bridge struct {
	config  *config.Config
	logger  *slog.Logger
	version string

	session    sessionControl
	associator associator
	seen       *dedupe.Cache

	httpServer  *http.Server
	tsnetServer *tsnet.Server
}

// New creates a Bridge from config. The transport is not created here; the
// session manager builds it after the startup grace period.
func New(cfg *config.Config, version string, logger *slog.Logger) (*Bridge, error) {
	backendClient := backend.New(cfg.Backend.URL)
	engineClient := engine.New(cfg.Engine.URL)

	state := session.NewState(logger.With("component", "session"))

	storePath := cfg.WhatsApp.StorePath
	factory := func(handler func(transport.Event)) (transport.Transport, error) {
		return transport.NewWhatsmeow(context.Background(), storePath, handler, logger.With("component", "transport"))
	}

	mgr := session.NewManager(state, factory,
		cfg.WhatsApp.InitDelay, cfg.WhatsApp.RestartDelay,
		logger.With("component", "session-manager"))

	seen := dedupe.New(dedupeTTL, dedupeMaxSize)
	fwd := router.NewForwarder(engineClient, mgr, logger.With("component", "forwarder"))
	rtr := router.New(backendClient, fwd, mgr, seen, logger.With("component", "router"))
	mgr.SetMessageHandler(rtr.Dispatch)

	b := &Bridge{
		config:     cfg,
		logger:     logger.With("component", "bridge"),
		version:    version,
		session:    mgr,
		associator: backendClient,
		seen:       seen,
	}

	mux := http.NewServeMux()
	b.registerRoutes(mux)

	b.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           b.recoverMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return b, nil
}

// Run starts the control API immediately, schedules the delayed transport
// initialization, and blocks until the context is canceled or the server
// fails. The transport is guaranteed a teardown attempt before return.
func (b *Bridge) Run(ctx context.Context) error {
	ln, err := b.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		b.logger.Info("control API listening", "addr", ln.Addr().String())
		if err := b.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	b.session.Start(ctx)

	var serverErr error
	select {
	case <-ctx.Done():
		b.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		b.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := b.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the run context is already
// canceled.
func (b *Bridge) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Shutdown(ctx)
}

// Shutdown stops the control API and tears down the WhatsApp transport.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.logger.Info("shutting down bridge")

	var errs []error
	if err := b.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	b.session.Shutdown()
	b.seen.Close()

	if b.tsnetServer != nil {
		if err := b.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// setupListener creates the API listener: a tsnet listener when Tailscale
// is enabled, a plain TCP listener otherwise.
func (b *Bridge) setupListener(ctx context.Context) (net.Listener, error) {
	if b.config.Tailscale.Enabled {
		return b.setupTailscaleListener(ctx)
	}
	return net.Listen("tcp", b.config.Server.HTTPAddr)
}

// resolveTailscaleStateDir returns the state directory, using the default
// XDG data location if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "whatsapp-bridge", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and listens on it. The control
// API is operator-only, so serving it over the tailnet keeps it off the
// public internet.
func (b *Bridge) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := b.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	b.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	b.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := b.tsnetServer.Up(ctx)
	if err != nil {
		_ = b.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var tsAddr string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	}
	b.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", tsAddr)

	ln, err := b.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = b.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale: %w", err)
	}
	return ln, nil
}
