// Prospect is a software-project intake service.
//
// It runs conversational intake over chat (HTTP and WebSocket) and voice
// (jambonz webhooks), collects the project details a feasibility study
// needs, and compiles a report once the picture is complete. Configuration
// is loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	prospect serve           Start the API server
//	prospect version         Print version and build information
//	prospect -o json version Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prospect-agent/prospect/internal/api"
	"github.com/prospect-agent/prospect/internal/buildinfo"
	"github.com/prospect-agent/prospect/internal/config"
	"github.com/prospect-agent/prospect/internal/delivery"
	"github.com/prospect-agent/prospect/internal/intake"
	"github.com/prospect-agent/prospect/internal/llm"
	"github.com/prospect-agent/prospect/internal/notify"
	"github.com/prospect-agent/prospect/internal/store"
	"github.com/prospect-agent/prospect/internal/voice"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run], keeping
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the prospect command. Arguments are
// parsed by hand: the flag package relies on package-level globals
// (flag.CommandLine), which makes it impossible to call run()
// concurrently from tests, and our argument surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Prospect - Software Project Intake Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: prospect [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/prospect/config.yaml, /etc/prospect/config.yaml")
	return nil
}

// runServe handles the "prospect serve" subcommand. It loads config,
// opens the session store, wires the language-model client, voice
// services, delivery, and the optional MQTT publisher into the intake
// pipeline, starts the HTTP server, and blocks until a shutdown signal
// arrives.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Prospect", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("config %s: %w", cfgPath, err)
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.OpenAI.Model,
	)

	// --- Session store ---
	// SQLite when a path is configured, so intake sessions survive
	// restarts. Without a path everything lives in memory; useful for
	// development, lossy in production.
	var st store.Store
	if cfg.Database.Path != "" {
		sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open session database %s: %w", cfg.Database.Path, err)
		}
		defer sqlStore.Close()
		st = sqlStore
		logger.Info("session database opened", "path", cfg.Database.Path)
	} else {
		st = store.NewMemoryStore()
		logger.Warn("no database path configured, sessions are in-memory only")
	}

	// --- Language model client ---
	if cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("config %s: openai.api_key is required", cfgPath)
	}
	llmClient := llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL, logger)

	// A failed ping is worth knowing about at startup, but the provider
	// may simply be slow or briefly down; every turn retries anyway.
	pingCtx, pingCancel := context.WithTimeout(ctx, 15*time.Second)
	if err := llmClient.Ping(pingCtx); err != nil {
		logger.Warn("language model ping failed", "error", err)
	} else {
		logger.Info("language model reachable", "model", cfg.OpenAI.Model)
	}
	pingCancel()

	// --- MQTT publisher ---
	// Optional: publishes session-completed and report-generated events
	// for downstream automation. Wired as the intake notifier when
	// enabled; intake works identically without it.
	var notifier intake.Notifier
	var publisher *notify.Publisher
	if cfg.MQTT.Enabled {
		publisher = notify.New(cfg.MQTT, logger)
		if err := publisher.Start(ctx); err != nil {
			return fmt.Errorf("start mqtt publisher: %w", err)
		}
		notifier = publisher
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "device_name", cfg.MQTT.DeviceName)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// --- Intake pipeline ---
	processor := intake.NewProcessor(st, llmClient, notifier, logger)
	compiler := intake.NewCompiler(st, llmClient, notifier, logger)

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, processor, compiler, st, logger)

	// --- Voice services ---
	// Transcription prefers the hosted Whisper API when an OpenAI key is
	// present and falls back to the self-hosted endpoint otherwise.
	transcriber := voice.NewWhisperClient(cfg.OpenAI.APIKey, cfg.Whisper.URL, cfg.Whisper.Model, logger)
	synthesizer := voice.NewCoquiClient(cfg.TTS.URL, cfg.TTS.Voice, logger)
	server.SetVoice(transcriber, synthesizer)
	logger.Info("voice services configured", "whisper_url", cfg.Whisper.URL, "tts_url", cfg.TTS.URL)

	// --- Report delivery ---
	if cfg.Email.SMTP.Host != "" {
		server.SetMailer(delivery.NewMailer(cfg.Email, logger))
		logger.Info("report email enabled", "smtp_host", cfg.Email.SMTP.Host, "from", cfg.Email.From)
	} else {
		logger.Info("report email disabled (no smtp host configured)")
	}

	if cfg.Report.BaseURL != "" {
		server.SetReportBaseURL(cfg.Report.BaseURL)
	}
	server.SetAdminTokenHash(cfg.API.AdminTokenHash)

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		// Publish offline status before dropping the broker connection.
		if publisher != nil {
			if err := publisher.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		_ = server.Shutdown(shutdownCtx)
	}()

	// Start the API server. This blocks until the server is shut down
	// via context cancellation or a fatal error.
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Prospect stopped")
	return nil
}

// newLogger creates a structured logger writing to w at the given level.
// All log output in Prospect goes through slog; this helper standardizes
// the handler configuration.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
