package factories

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"debatekit/core"
	"debatekit/transports/websocket"

	"github.com/bytedance/sonic"
)

// SessionAPIConfig describes an HTTP endpoint that returns a SessionConfig JSON payload.
type SessionAPIConfig struct {
	// URL is the endpoint to request.
	URL string `json:"url"`
	// Method is the HTTP method. Defaults to "POST" when Body is set, "GET" otherwise.
	Method string `json:"method,omitempty"`
	// Headers are additional HTTP headers to include in the request.
	Headers map[string]string `json:"headers,omitempty"`
	// Body is an optional JSON body to send with the request.
	Body json.RawMessage `json:"body,omitempty"`
}

var sessionAPIClient = &http.Client{Timeout: 10 * time.Second}

// Fetch calls the configured endpoint and parses the response as a SessionConfig.
func (c *SessionAPIConfig) Fetch() (SessionConfig, error) {
	method := c.Method
	if method == "" {
		if len(c.Body) > 0 {
			method = http.MethodPost
		} else {
			method = http.MethodGet
		}
	}

	req, err := http.NewRequest(method, c.URL, bytes.NewReader(c.Body))
	if err != nil {
		return SessionConfig{}, fmt.Errorf("session api: %w", err)
	}
	if len(c.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := sessionAPIClient.Do(req)
	if err != nil {
		return SessionConfig{}, fmt.Errorf("session api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SessionConfig{}, fmt.Errorf("session api: unexpected status %d from %s", resp.StatusCode, c.URL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SessionConfig{}, fmt.Errorf("session api: read response: %w", err)
	}
	return SessionConfigFromJSON(body)
}

// ServerConfig configures the HTTP listener and websocket endpoint.
type ServerConfig struct {
	Addr      string           `json:"addr"`
	WebSocket websocket.Config `json:"websocket"`
}

// LoggingConfig selects the process logger.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "text" or "json"
}

// BuildLogger returns a logger writing to w in the configured format and level.
func (c LoggingConfig) BuildLogger(w io.Writer) *core.Logger {
	var logger *core.Logger
	if strings.EqualFold(c.Format, "json") {
		logger = core.NewJSONLogger(w)
	} else {
		logger = core.NewDevelopmentLogger(w)
	}
	return logger.WithLevel(core.ParseLogLevel(c.Level))
}

// SettingsConfig is the top-level config loaded from settings.json.
type SettingsConfig struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`
	// SessionAPI, when set, is called at startup to fetch the SessionConfig.
	SessionAPI *SessionAPIConfig `json:"session_api,omitempty"`
	// Session, when set, provides inline session config directly in settings.json.
	Session *SessionConfig `json:"session_config,omitempty"`
}

// DefaultSettingsConfig returns a SettingsConfig pre-filled with defaults.
func DefaultSettingsConfig() SettingsConfig {
	return SettingsConfig{
		Server: ServerConfig{
			Addr:      ":8080",
			WebSocket: websocket.Config{Path: "/ws"},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// SettingsConfigFromJSON parses a JSON blob into a SettingsConfig. The inline
// session config is parsed through SessionConfigFromJSON so it keeps its defaults.
func SettingsConfigFromJSON(data []byte) (SettingsConfig, error) {
	var raw struct {
		Server        *ServerConfig     `json:"server,omitempty"`
		Logging       *LoggingConfig    `json:"logging,omitempty"`
		SessionAPI    *SessionAPIConfig `json:"session_api,omitempty"`
		SessionConfig json.RawMessage   `json:"session_config,omitempty"`
	}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}

	cfg := DefaultSettingsConfig()
	if raw.Server != nil {
		if raw.Server.Addr != "" {
			cfg.Server.Addr = raw.Server.Addr
		}
		if raw.Server.WebSocket.Path != "" {
			cfg.Server.WebSocket.Path = raw.Server.WebSocket.Path
		}
		cfg.Server.WebSocket.AllowedOrigins = raw.Server.WebSocket.AllowedOrigins
		cfg.Server.WebSocket.SendBufferSize = raw.Server.WebSocket.SendBufferSize
	}
	if raw.Logging != nil {
		if raw.Logging.Level != "" {
			cfg.Logging.Level = raw.Logging.Level
		}
		if raw.Logging.Format != "" {
			cfg.Logging.Format = raw.Logging.Format
		}
	}
	cfg.SessionAPI = raw.SessionAPI

	if len(raw.SessionConfig) > 0 {
		sc, err := SessionConfigFromJSON(raw.SessionConfig)
		if err != nil {
			return SettingsConfig{}, fmt.Errorf("settings: %w", err)
		}
		cfg.Session = &sc
	}
	return cfg, nil
}

// SettingsConfigFromFile reads and parses a SettingsConfig from a JSON file.
func SettingsConfigFromFile(path string) (SettingsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettingsConfig(), fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsConfigFromJSON(data)
}

// ResolveSession returns the session config from the API when configured,
// otherwise the inline one.
func (c SettingsConfig) ResolveSession() (SessionConfig, error) {
	switch {
	case c.SessionAPI != nil:
		return c.SessionAPI.Fetch()
	case c.Session != nil:
		return *c.Session, nil
	default:
		return SessionConfig{}, fmt.Errorf("settings: no session config, set session_config or session_api")
	}
}
