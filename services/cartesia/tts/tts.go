package cartesia

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"debatekit/core"
	"debatekit/services/ws"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultCartesiaURL        = "wss://api.cartesia.ai/tts/websocket"
	defaultCartesiaModelID    = "sonic-2"
	defaultCartesiaVoiceID    = "a0e99841-438c-4a64-b679-ae501e7d6091" // Helpful Woman
	defaultCartesiaAPIVersion = "2024-11-13"
	defaultCartesiaLanguage   = "en"
	defaultSampleRate         = 24000
	writeTimeout              = 10 * time.Second
)

// CartesiaTTSConfig holds configuration for the Cartesia TTS service.
// VoiceID is the voice used by Synthesize.
type CartesiaTTSConfig struct {
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	ModelID    string `json:"model_id"`
	VoiceID    string `json:"voice_id"`
	Language   string `json:"language"`
	APIVersion string `json:"api_version"`
	SampleRate int    `json:"sample_rate"`
}

// CartesiaTTS synthesizes one utterance per websocket, each request under a fresh context_id.
// It serves as a system voice with its configured voice, and as a cloned voice
// when given a persona's voice id.
type CartesiaTTS struct {
	config CartesiaTTSConfig
	logger *core.Logger
}

type cartesiaTTSRequest struct {
	ModelID    string            `json:"model_id"`
	Transcript string            `json:"transcript"`
	Voice      cartesiaVoice     `json:"voice"`
	OutputFmt  cartesiaOutputFmt `json:"output_format"`
	ContextID  string            `json:"context_id"`
	Continue   bool              `json:"continue"`
	Language   string            `json:"language,omitempty"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFmt struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// cartesiaResponse is a JSON frame; "chunk" frames carry base64 audio in Data.
type cartesiaResponse struct {
	Type       string `json:"type"`
	ContextID  string `json:"context_id"`
	StatusCode int    `json:"status_code"`
	Done       bool   `json:"done"`
	Error      string `json:"error,omitempty"`
	Data       string `json:"data,omitempty"`
}

func NewCartesiaTTS(config CartesiaTTSConfig, logger *core.Logger) *CartesiaTTS {
	if config.BaseURL == "" {
		config.BaseURL = defaultCartesiaURL
	}
	if config.ModelID == "" {
		config.ModelID = defaultCartesiaModelID
	}
	if config.VoiceID == "" {
		config.VoiceID = defaultCartesiaVoiceID
	}
	if config.APIVersion == "" {
		config.APIVersion = defaultCartesiaAPIVersion
	}
	if config.Language == "" {
		config.Language = defaultCartesiaLanguage
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaultSampleRate
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &CartesiaTTS{
		config: config,
		logger: logger.With(map[string]interface{}{"service": "cartesia"}),
	}
}

func (c *CartesiaTTS) Name() string { return "cartesia" }

// Synthesize speaks text with the configured voice.
func (c *CartesiaTTS) Synthesize(ctx context.Context, text string) (core.AudioChunk, error) {
	return c.SynthesizeVoice(ctx, text, c.config.VoiceID)
}

// SynthesizeVoice speaks text with voiceID and returns 16-bit mono PCM.
func (c *CartesiaTTS) SynthesizeVoice(ctx context.Context, text, voiceID string) (core.AudioChunk, error) {
	if c.config.APIKey == "" {
		return core.AudioChunk{}, errors.New("Cartesia API key is required")
	}
	if voiceID == "" {
		voiceID = c.config.VoiceID
	}

	q := url.Values{}
	q.Set("api_key", c.config.APIKey)
	q.Set("cartesia_version", c.config.APIVersion)
	conn, err := ws.Dial(ctx, c.config.BaseURL+"?"+q.Encode(), nil, c.logger)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("cartesia: %w", err)
	}
	defer conn.Close()

	contextID := uuid.NewString()
	req := cartesiaTTSRequest{
		ModelID:    c.config.ModelID,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: voiceID},
		OutputFmt: cartesiaOutputFmt{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.config.SampleRate,
		},
		ContextID: contextID,
		Continue:  false,
		Language:  c.config.Language,
	}
	data, err := sonic.Marshal(req)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("cartesia: encode request: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return core.AudioChunk{}, fmt.Errorf("cartesia: send: %w", err)
	}

	pcm, err := c.readAudio(ctx, conn, contextID)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("cartesia: %w", err)
	}
	c.logger.Debug("synthesized", "voice_id", voiceID, "context_id", contextID, "bytes", len(pcm))
	return core.AudioChunk{
		Data:       pcm,
		SampleRate: c.config.SampleRate,
		Channels:   1,
		Format:     core.PCM,
	}, nil
}

func (c *CartesiaTTS) readAudio(ctx context.Context, conn *websocket.Conn, contextID string) ([]byte, error) {
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

		var resp cartesiaResponse
		if err := sonic.Unmarshal(message, &resp); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		if resp.ContextID != "" && resp.ContextID != contextID {
			continue
		}
		switch resp.Type {
		case "chunk":
			audio, err := base64.StdEncoding.DecodeString(resp.Data)
			if err != nil {
				return nil, fmt.Errorf("decode audio: %w", err)
			}
			pcm = append(pcm, audio...)
		case "error":
			return nil, fmt.Errorf("server error (status %d): %s", resp.StatusCode, resp.Error)
		}
		if resp.Done {
			return pcm, nil
		}
	}
}
