package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"debatekit/controlplane"
	"debatekit/core"
	"debatekit/factories"
	"debatekit/session"
	"debatekit/transports/websocket"

	"github.com/joho/godotenv"
)

func main() {
	var (
		addr       string
		connectURL string
		demo       bool
		topicID    string
		turns      int
	)
	flag.StringVar(&connectURL, "connect", "", "WebSocket URL of a monitoring dashboard (e.g. ws://ui:8888/ws/server)")
	flag.StringVar(&addr, "addr", "", "listen address, overrides server.addr from settings")
	flag.BoolVar(&demo, "demo", false, "run one conversation in the terminal instead of serving websockets")
	flag.StringVar(&topicID, "topic", "", "topic id for -demo (defaults to the first topic)")
	flag.IntVar(&turns, "turns", 0, "override conversation.max_turns")
	flag.Parse()

	if err := godotenv.Load(".env.local"); err != nil {
		core.GetLogger().With(map[string]any{"error": err}).Warn("No .env.local file found or failed to load")
	}
	settings, apiKeys := loadSettingsFromEnv()

	logger := settings.Logging.BuildLogger(os.Stdout)
	core.SetLogger(logger)

	sessionCfg, err := settings.ResolveSession()
	if err != nil {
		logger.With(map[string]any{"error": err}).Error("failed to resolve session config")
		os.Exit(1)
	}
	sessionCfg.InjectAPIKeys(apiKeys)
	if turns > 0 {
		sessionCfg.Conversation.MaxTurns = turns
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var client *controlplane.Client
	if connectURL != "" && !demo {
		client = newControlPlaneClient(connectURL, logger, stop)
		sessionCfg.Mirror = func(meta core.SessionMetadata) session.Transcript {
			return client.NewTranscript(meta.SessionID)
		}
	}

	runtime, err := sessionCfg.Build(logger)
	if err != nil {
		logger.With(map[string]any{"error": err}).Error("failed to build runtime")
		os.Exit(1)
	}

	if demo {
		if err := runConsole(ctx, runtime, topicID, os.Stdout); err != nil {
			logger.With(map[string]any{"error": err}).Error("demo failed")
			os.Exit(1)
		}
		return
	}

	if client != nil {
		client.Configure(runtime.Manager.Len)
		if err := client.Connect(ctx); err != nil {
			logger.With(map[string]any{"error": err}).Error("failed to connect to control plane")
			os.Exit(1)
		}
		defer client.Close()
		// the server follows its dashboard down
		go func() {
			<-client.Done()
			logger.Info("control plane connection lost, shutting down")
			stop()
		}()
	}

	if addr != "" {
		settings.Server.Addr = addr
	}
	runServer(ctx, settings.Server, runtime, logger)
}

func newControlPlaneClient(connectURL string, logger *core.Logger, stop context.CancelFunc) *controlplane.Client {
	logger = logger.With(map[string]any{"component": "connected"})

	serverID := os.Getenv("SERVER_ID")
	if serverID == "" {
		hostname, _ := os.Hostname()
		serverID = hostname
	}
	client := controlplane.NewClient(controlplane.ClientConfig{
		ConnectURL: connectURL,
		ServerID:   serverID,
		Version:    "1.0.0",
		Metadata: map[string]string{
			"hostname": func() string { h, _ := os.Hostname(); return h }(),
		},
		Logger: logger,
	})
	client.OnShutdown = func(reason string) {
		logger.With(map[string]any{"reason": reason}).Info("shutdown requested by control plane")
		stop()
	}
	return client
}

// runServer serves the websocket surface until ctx is cancelled, then drains in-flight turns.
func runServer(ctx context.Context, cfg factories.ServerConfig, runtime *factories.Runtime, logger *core.Logger) {
	logger = logger.With(map[string]any{"component": "server"})
	server := websocket.NewServer(runtime.Manager, cfg.WebSocket, logger)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Addr, "path", cfg.WebSocket.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.With(map[string]any{"error": err}).Error("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	timeout := time.Duration(getEnvAsInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.With(map[string]any{"error": err}).Warn("http shutdown incomplete")
	}
	server.Drain()
	runtime.Manager.CloseAll()
}

// loadSettingsFromEnv loads SettingsConfig from file or SETTINGS_JSON_B64 env var, and API keys from env vars.
func loadSettingsFromEnv() (factories.SettingsConfig, factories.APIKeys) {
	var settings factories.SettingsConfig
	var err error

	if b64 := os.Getenv("SETTINGS_JSON_B64"); b64 != "" {
		data, decErr := base64.StdEncoding.DecodeString(b64)
		if decErr != nil {
			core.GetLogger().With(map[string]any{"error": decErr}).Error("failed to decode SETTINGS_JSON_B64")
			settings = factories.DefaultSettingsConfig()
		} else {
			settings, err = factories.SettingsConfigFromJSON(data)
			if err != nil {
				core.GetLogger().With(map[string]any{"error": err}).Error("failed to parse SETTINGS_JSON_B64")
				settings = factories.DefaultSettingsConfig()
			} else {
				core.GetLogger().Info("loaded settings from SETTINGS_JSON_B64")
			}
		}
	} else {
		settingsPath := getEnv("SETTINGS_PATH", "./settings.json")
		settings, err = factories.SettingsConfigFromFile(settingsPath)
		if err != nil {
			core.GetLogger().With(map[string]any{"path": settingsPath, "error": err}).Warn("failed to load settings, using defaults")
			settings = factories.DefaultSettingsConfig()
		}
	}

	apiKeys := factories.APIKeys{
		OpenAI:     getEnv("OPENAI_API_KEY", ""),
		DeepSeek:   getEnv("DEEPSEEK_API_KEY", ""),
		GLM:        getEnv("GLM_API_KEY", ""),
		Together:   getEnv("TOGETHER_API_KEY", ""),
		Groq:       getEnv("GROQ_API_KEY", ""),
		OpenRouter: getEnv("OPENROUTER_API_KEY", ""),
		Mistral:    getEnv("MISTRAL_API_KEY", ""),
		ElevenLabs: getEnv("ELEVENLABS_API_KEY", ""),
		Cartesia:   getEnv("CARTESIA_API_KEY", ""),
		Deepgram:   getEnv("DEEPGRAM_API_KEY", ""),
	}

	return settings, apiKeys
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer with a default fallback
func getEnvAsInt(key string, defaultValue int) int {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}
