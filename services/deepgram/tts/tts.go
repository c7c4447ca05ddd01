package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"debatekit/core"
	"debatekit/services/ws"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// maxCharsPerSpeak is Deepgram's limit for one Speak message.
const maxCharsPerSpeak = 2000

const writeTimeout = 10 * time.Second

// DeepgramTTSConfig holds configuration for the Deepgram Aura system voice.
// The Aura model name is the voice.
type DeepgramTTSConfig struct {
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	Model      string `json:"model"`
	SampleRate int    `json:"sample_rate"`
}

// DefaultConfig returns a DeepgramTTSConfig with sensible defaults.
func DefaultConfig() DeepgramTTSConfig {
	return DeepgramTTSConfig{
		BaseURL:    "wss://api.deepgram.com/v1/speak",
		Model:      "aura-2-arcas-en",
		SampleRate: 24000,
	}
}

type DeepgramTTS struct {
	config DeepgramTTSConfig
	logger *core.Logger
}

type (
	speakV1Text struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}

	speakV1Control struct {
		Type string `json:"type"` // Flush, Clear or Close
	}

	// speakV1Server covers Metadata, Flushed, Warning and Error frames.
	speakV1Server struct {
		Type        string `json:"type"`
		Description string `json:"description"`
		Code        string `json:"code"`
	}
)

func NewDeepgramTTS(config DeepgramTTSConfig, logger *core.Logger) *DeepgramTTS {
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaults.SampleRate
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &DeepgramTTS{
		config: config,
		logger: logger.With(map[string]interface{}{"service": "deepgram"}),
	}
}

func (d *DeepgramTTS) Name() string { return "deepgram" }

// Synthesize speaks text with the configured Aura model and returns 16-bit mono PCM.
func (d *DeepgramTTS) Synthesize(ctx context.Context, text string) (core.AudioChunk, error) {
	if d.config.APIKey == "" {
		return core.AudioChunk{}, errors.New("Deepgram API key is required")
	}

	q := url.Values{}
	q.Set("model", d.config.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.config.SampleRate))
	header := http.Header{}
	// Deepgram requires the "Token " prefix
	header.Set("Authorization", "Token "+d.config.APIKey)

	conn, err := ws.Dial(ctx, d.config.BaseURL+"?"+q.Encode(), header, d.logger)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("deepgram: %w", err)
	}
	defer conn.Close()

	for _, part := range splitText(text, maxCharsPerSpeak-100) {
		if err := sendJSON(conn, speakV1Text{Type: "Speak", Text: part}); err != nil {
			return core.AudioChunk{}, fmt.Errorf("deepgram: send: %w", err)
		}
	}
	if err := sendJSON(conn, speakV1Control{Type: "Flush"}); err != nil {
		return core.AudioChunk{}, fmt.Errorf("deepgram: flush: %w", err)
	}

	pcm, err := d.readAudio(ctx, conn)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("deepgram: %w", err)
	}
	sendJSON(conn, speakV1Control{Type: "Close"})

	d.logger.Debug("synthesized", "model", d.config.Model, "bytes", len(pcm))
	return core.AudioChunk{
		Data:       pcm,
		SampleRate: d.config.SampleRate,
		Channels:   1,
		Format:     core.PCM,
	}, nil
}

func (d *DeepgramTTS) readAudio(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var pcm []byte
	for {
		conn.SetReadDeadline(ws.ReadDeadline(ctx))
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read: %w", err)
		}
		if messageType == websocket.BinaryMessage {
			pcm = append(pcm, message...)
			continue
		}

		var msg speakV1Server
		if err := sonic.Unmarshal(message, &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		switch msg.Type {
		case "Flushed":
			return pcm, nil
		case "Warning":
			d.logger.Warn("deepgram warning", "code", msg.Code, "description", msg.Description)
		case "Error":
			return nil, fmt.Errorf("server error %s: %s", msg.Code, msg.Description)
		}
	}
}

// splitText cuts text into pieces of at most size bytes, preferring spaces.
func splitText(text string, size int) []string {
	var parts []string
	for len(text) > size {
		cut := size
		for i := size; i > size/2; i-- {
			if text[i] == ' ' {
				cut = i
				break
			}
		}
		// never split inside a UTF-8 sequence
		for cut > 0 && text[cut]&0xC0 == 0x80 {
			cut--
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func sendJSON(conn *websocket.Conn, v interface{}) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
