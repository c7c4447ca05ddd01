// Package tts is an offline voice backend producing a short tone per utterance.
package tts

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"debatekit/core"
)

const (
	defaultSampleRate = 16000
	// msPerRune keeps the tone roughly as long as the spoken line would be.
	msPerRune = 40
	maxMillis = 8000
)

// ErrUnavailable is returned while the backend is switched off.
var ErrUnavailable = errors.New("mock voice unavailable")

type Config struct {
	SampleRate int     `json:"sample_rate"`
	Frequency  float64 `json:"frequency"`
	Name       string  `json:"name"`
}

// MockTTS implements both the cloned and system voice interfaces.
type MockTTS struct {
	config Config

	mu          sync.Mutex
	unavailable bool
	calls       []string
}

func NewMockTTS(config Config) *MockTTS {
	if config.SampleRate == 0 {
		config.SampleRate = defaultSampleRate
	}
	if config.Frequency == 0 {
		config.Frequency = 440
	}
	if config.Name == "" {
		config.Name = "mock"
	}
	return &MockTTS{config: config}
}

func (m *MockTTS) Name() string { return m.config.Name }

// SetAvailable switches the backend on or off.
func (m *MockTTS) SetAvailable(ok bool) {
	m.mu.Lock()
	m.unavailable = !ok
	m.mu.Unlock()
}

// Calls returns the voice ids requested so far; system calls record "".
func (m *MockTTS) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockTTS) Synthesize(ctx context.Context, text string) (core.AudioChunk, error) {
	return m.SynthesizeVoice(ctx, text, "")
}

func (m *MockTTS) SynthesizeVoice(ctx context.Context, text, voiceID string) (core.AudioChunk, error) {
	if err := ctx.Err(); err != nil {
		return core.AudioChunk{}, err
	}
	m.mu.Lock()
	m.calls = append(m.calls, voiceID)
	unavailable := m.unavailable
	m.mu.Unlock()
	if unavailable {
		return core.AudioChunk{}, ErrUnavailable
	}
	return core.AudioChunk{
		Data:       m.tone(len([]rune(text))),
		SampleRate: m.config.SampleRate,
		Channels:   1,
		Format:     core.PCM,
	}, nil
}

func (m *MockTTS) tone(runes int) []byte {
	millis := runes * msPerRune
	if millis > maxMillis {
		millis = maxMillis
	}
	if millis < msPerRune {
		millis = msPerRune
	}
	samples := m.config.SampleRate * millis / 1000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := math.Sin(2 * math.Pi * m.config.Frequency * float64(i) / float64(m.config.SampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*8000)))
	}
	return pcm
}
