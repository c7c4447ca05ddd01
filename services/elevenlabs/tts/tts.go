package elevenlabs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"debatekit/core"
	"debatekit/services/ws"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const (
	defaultBaseURL    = "wss://api.elevenlabs.io/v1/text-to-speech"
	defaultModelID    = "eleven_turbo_v2_5"
	defaultSampleRate = 24000
	writeTimeout      = 10 * time.Second
)

// ElevenLabsTTSConfig holds configuration for the ElevenLabs cloned voice backend.
// The voice id is supplied per call by the persona.
type ElevenLabsTTSConfig struct {
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	ModelID    string `json:"model_id"`
	SampleRate int    `json:"sample_rate"`

	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// ElevenLabsTTS synthesizes one utterance per stream-input websocket.
type ElevenLabsTTS struct {
	config ElevenLabsTTSConfig
	logger *core.Logger
}

type (
	// BOS (Beginning of Stream)
	elBOSMessage struct {
		Text             string          `json:"text"`
		VoiceSettings    elVoiceSettings `json:"voice_settings"`
		GenerationConfig elGenConfig     `json:"generation_config"`
	}

	elVoiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
	}

	elGenConfig struct {
		ChunkLengthSchedule []int `json:"chunk_length_schedule"`
	}

	elTextMessage struct {
		Text                 string `json:"text"`
		TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
	}
)

// elServerMessage carries either audio or an error.
type elServerMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewElevenLabsTTS(config ElevenLabsTTSConfig, logger *core.Logger) *ElevenLabsTTS {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.ModelID == "" {
		config.ModelID = defaultModelID
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaultSampleRate
	}
	if config.Stability == 0 {
		config.Stability = 0.5
	}
	if config.SimilarityBoost == 0 {
		config.SimilarityBoost = 0.75
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &ElevenLabsTTS{
		config: config,
		logger: logger.With(map[string]interface{}{"service": "elevenlabs"}),
	}
}

func (e *ElevenLabsTTS) Name() string { return "elevenlabs" }

// outputFormat maps the sample rate to an ElevenLabs output_format value.
func outputFormat(sampleRate int) string {
	switch sampleRate {
	case 16000, 22050, 44100:
		return fmt.Sprintf("pcm_%d", sampleRate)
	default:
		return "pcm_24000"
	}
}

func (e *ElevenLabsTTS) endpoint(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", e.config.ModelID)
	q.Set("output_format", outputFormat(e.config.SampleRate))
	return fmt.Sprintf("%s/%s/stream-input?%s", e.config.BaseURL, url.PathEscape(voiceID), q.Encode())
}

// SynthesizeVoice speaks text with the cloned voice voiceID and returns 16-bit mono PCM.
func (e *ElevenLabsTTS) SynthesizeVoice(ctx context.Context, text, voiceID string) (core.AudioChunk, error) {
	if e.config.APIKey == "" {
		return core.AudioChunk{}, errors.New("ElevenLabs API key is required")
	}
	if voiceID == "" {
		return core.AudioChunk{}, errors.New("elevenlabs: voice id is required")
	}

	header := http.Header{}
	header.Set("xi-api-key", e.config.APIKey)
	conn, err := ws.Dial(ctx, e.endpoint(voiceID), header, e.logger)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("elevenlabs: %w", err)
	}
	defer conn.Close()

	bos := elBOSMessage{
		Text: " ",
		VoiceSettings: elVoiceSettings{
			Stability:       e.config.Stability,
			SimilarityBoost: e.config.SimilarityBoost,
		},
		GenerationConfig: elGenConfig{
			ChunkLengthSchedule: []int{120, 160, 250, 290},
		},
	}
	// text must end with a space; an empty text closes the stream
	for _, msg := range []interface{}{
		bos,
		elTextMessage{Text: text + " ", TryTriggerGeneration: true},
		elTextMessage{Text: ""},
	} {
		if err := sendJSON(conn, msg); err != nil {
			return core.AudioChunk{}, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	pcm, err := e.readAudio(ctx, conn)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("elevenlabs: %w", err)
	}
	e.logger.Debug("synthesized", "voice_id", voiceID, "bytes", len(pcm))
	return core.AudioChunk{
		Data:       pcm,
		SampleRate: e.config.SampleRate,
		Channels:   1,
		Format:     core.PCM,
	}, nil
}

func (e *ElevenLabsTTS) readAudio(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var pcm []byte
	for {
		conn.SetReadDeadline(ws.ReadDeadline(ctx))
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// the server closes normally after the final chunk
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(pcm) > 0 {
				return pcm, nil
			}
			return nil, fmt.Errorf("read: %w", err)
		}

		if messageType == websocket.BinaryMessage {
			pcm = append(pcm, message...)
			continue
		}

		var msg elServerMessage
		if err := sonic.Unmarshal(message, &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		if msg.Error != "" {
			return nil, fmt.Errorf("server error: %s %s", msg.Error, msg.Message)
		}
		if msg.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return nil, fmt.Errorf("decode audio: %w", err)
			}
			pcm = append(pcm, audio...)
		}
		if msg.IsFinal {
			return pcm, nil
		}
	}
}

func sendJSON(conn *websocket.Conn, v interface{}) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
