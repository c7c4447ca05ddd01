package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"debatekit/core"
	mocktts "debatekit/services/mock/tts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingVoice struct {
	mu    sync.Mutex
	calls int
}

func (f *failingVoice) SynthesizeVoice(ctx context.Context, text, voiceID string) (core.AudioChunk, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return core.AudioChunk{}, errors.New("quota exceeded")
}

type hangingVoice struct{}

func (hangingVoice) SynthesizeVoice(ctx context.Context, text, voiceID string) (core.AudioChunk, error) {
	<-ctx.Done()
	return core.AudioChunk{}, ctx.Err()
}

type emptyVoice struct{}

func (emptyVoice) Synthesize(ctx context.Context, text string) (core.AudioChunk, error) {
	return core.AudioChunk{SampleRate: 16000, Channels: 1}, nil
}

var (
	clonedPersona = core.Persona{ID: "me", DisplayName: "Me", VoiceBackend: core.VoiceBackendCloned, VoiceID: "voice-me"}
	systemPersona = core.Persona{ID: "bot", DisplayName: "Bot", VoiceBackend: core.VoiceBackendSystem}
)

func event(speaker, text string) core.ConversationEvent {
	return core.ConversationEvent{TurnIndex: 0, SpeakerID: speaker, Text: text}
}

func TestRender_clonedVoice(t *testing.T) {
	cloned := mocktts.NewMockTTS(mocktts.Config{Name: "cloned"})
	system := mocktts.NewMockTTS(mocktts.Config{Name: "system"})
	r := NewRouter(cloned, system, Config{OutputFormat: core.WAV}, core.NewNopLogger())

	res := r.Render(context.Background(), event("me", "Hello there"), clonedPersona)
	assert.EqualValues(t, core.AudioKindAudio, res.Kind)
	assert.EqualValues(t, "cloned", res.Backend)
	assert.False(t, res.Degraded)
	assert.EqualValues(t, core.WAV, res.Audio.Format)
	assert.EqualValues(t, "RIFF", string(res.Audio.Data[:4]))
	assert.EqualValues(t, []string{"voice-me"}, cloned.Calls())
	assert.Empty(t, system.Calls())
}

func TestRender_clonedAlwaysFailingDegradesToSystem(t *testing.T) {
	cloned := &failingVoice{}
	system := mocktts.NewMockTTS(mocktts.Config{Name: "system"})
	r := NewRouter(cloned, system, Config{OutputFormat: core.PCM}, core.NewNopLogger())

	for i := 0; i < 5; i++ {
		res := r.Render(context.Background(), event("me", "line"), clonedPersona)
		assert.False(t, res.IsSilent(), "turn %d", i)
		assert.True(t, res.Degraded, "turn %d", i)
		assert.EqualValues(t, "system", res.Backend)
		assert.Contains(t, res.Reason, "quota exceeded")
	}
	assert.EqualValues(t, 5, cloned.calls)
	assert.Len(t, system.Calls(), 5)
}

func TestRender_clonedTimeoutDegrades(t *testing.T) {
	system := mocktts.NewMockTTS(mocktts.Config{})
	r := NewRouter(hangingVoice{}, system, Config{SynthesisTimeout: 20 * time.Millisecond}, core.NewNopLogger())

	res := r.Render(context.Background(), event("me", "line"), clonedPersona)
	assert.False(t, res.IsSilent())
	assert.True(t, res.Degraded)
}

func TestRender_clonedUnconfigured(t *testing.T) {
	system := mocktts.NewMockTTS(mocktts.Config{})
	r := NewRouter(nil, system, Config{}, core.NewNopLogger())

	res := r.Render(context.Background(), event("me", "line"), clonedPersona)
	assert.False(t, res.IsSilent())
	assert.True(t, res.Degraded)
	assert.EqualValues(t, "cloned voice not configured", res.Reason)
}

func TestRender_systemPersonaUsesPreset(t *testing.T) {
	cloned := mocktts.NewMockTTS(mocktts.Config{Name: "cloned"})
	system := mocktts.NewMockTTS(mocktts.Config{Name: "system"})
	preset := mocktts.NewMockTTS(mocktts.Config{Name: "bot-voice"})
	r := NewRouter(cloned, system, Config{Presets: map[string]SystemVoice{"bot": preset}}, core.NewNopLogger())

	res := r.Render(context.Background(), event("bot", "beep"), systemPersona)
	assert.EqualValues(t, "bot-voice", res.Backend)
	assert.False(t, res.Degraded)
	assert.Empty(t, cloned.Calls())
	assert.Empty(t, system.Calls())

	other := core.Persona{ID: "other", VoiceBackend: core.VoiceBackendSystem}
	res = r.Render(context.Background(), event("other", "boop"), other)
	assert.EqualValues(t, "system", res.Backend)
}

func TestRender_silentFallbacks(t *testing.T) {
	downSystem := mocktts.NewMockTTS(mocktts.Config{})
	downSystem.SetAvailable(false)

	cases := []struct {
		name     string
		router   *Router
		persona  core.Persona
		text     string
		degraded bool
	}{
		{name: "nothing to speak", router: NewRouter(nil, mocktts.NewMockTTS(mocktts.Config{}), Config{}, nil), persona: systemPersona, text: "😂 (laughs)"},
		{name: "no system voice", router: NewRouter(nil, nil, Config{}, nil), persona: systemPersona, text: "hi"},
		{name: "system down", router: NewRouter(nil, downSystem, Config{}, nil), persona: systemPersona, text: "hi"},
		{name: "both down", router: NewRouter(&failingVoice{}, downSystem, Config{}, nil), persona: clonedPersona, text: "hi", degraded: true},
		{name: "empty audio", router: NewRouter(nil, emptyVoice{}, Config{}, nil), persona: systemPersona, text: "hi"},
	}
	for _, tc := range cases {
		res := tc.router.Render(context.Background(), event(tc.persona.ID, tc.text), tc.persona)
		assert.True(t, res.IsSilent(), tc.name)
		assert.NotEmpty(t, res.Reason, tc.name)
		assert.EqualValues(t, tc.degraded, res.Degraded, tc.name)
	}
}

func TestRender_outputFormats(t *testing.T) {
	for _, format := range []core.AudioEncodingFormat{core.PCM, core.ULAW, core.WAV} {
		system := mocktts.NewMockTTS(mocktts.Config{SampleRate: 8000})
		r := NewRouter(nil, system, Config{OutputFormat: format}, core.NewNopLogger())
		res := r.Render(context.Background(), event("bot", "hello"), systemPersona)
		require.False(t, res.IsSilent(), format.String())
		assert.EqualValues(t, format, res.Audio.Format, format.String())
		assert.EqualValues(t, 8000, res.Audio.SampleRate)
	}
}
