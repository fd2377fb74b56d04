// ABOUTME: Entry point for whatsapp-bridge
// ABOUTME: Connects a WhatsApp session to the chat backend and engine

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/saaschat/whatsapp-bridge/internal/bridge"
	"github.com/saaschat/whatsapp-bridge/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
          _           _                         _          _     _
 __      _| |__   __ _| |_ ___  __ _ _ __  _ __ | |__  _ __(_) __| | __ _  ___
 \ \ /\ / / '_ \ / _' | __/ __|/ _' | '_ \| '_ \| '_ \| '__| |/ _' |/ _' |/ _ \
  \ V  V /| | | | (_| | |_\__ \ (_| | |_) | |_) | |_) | |  | | (_| | (_| |  __/
   \_/\_/ |_| |_|\__,_|\__|___/\__,_| .__/| .__/|_.__/|_|  |_|\__,_|\__, |\___|
                                    |_|   |_|                       |___/
`

// getConfigPath returns the path to the bridge config file.
// Priority: WA_BRIDGE_CONFIG env var > XDG_CONFIG_HOME/whatsapp-bridge/bridge.yaml
// > ~/.config/whatsapp-bridge/bridge.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WA_BRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "bridge.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "whatsapp-bridge", "bridge.yaml")
}

// getDataPath returns the path to the bridge data directory.
// Priority: XDG_DATA_HOME/whatsapp-bridge > ~/.local/share/whatsapp-bridge
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "whatsapp-bridge")
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	configPath := getConfigPath()
	dataPath := getDataPath()

	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	if cfg.WhatsApp.StorePath == "" {
		cfg.WhatsApp.StorePath = filepath.Join(dataPath, "session.db")
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Backend:  %s\n", cfg.Backend.URL)
	green.Print("    ▶ ")
	fmt.Printf("Engine:   %s\n", cfg.Engine.URL)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Tailnet:  ")
		cyan.Println(cfg.Tailscale.Hostname)
	}
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := bridge.New(cfg, version, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	logger.Info("starting whatsapp-bridge", "version", version)
	return b.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Config Setup")
	fmt.Println("    ------------")
	fmt.Println()

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		return nil
	}

	starter := `# whatsapp-bridge configuration
# Generated by whatsapp-bridge init

server:
  http_addr: ":8080"

backend:
  url: "http://localhost:8081"

engine:
  url: "http://localhost:8082"

whatsapp:
  # Delay before the WhatsApp client is initialized after startup
  init_delay: "5s"
  # Delay before re-initialization after a restart request
  restart_delay: "2s"

logging:
  level: "info"
  format: "text"

# Serve the control API over a tailnet instead of a TCP port:
# tailscale:
#   enabled: true
#   hostname: "whatsapp-bridge"
`

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(starter), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: whatsapp-bridge")
	fmt.Println("    2. Scan the QR code from GET /api/whatsapp/qr")
	fmt.Println()

	return nil
}
