// Package voice turns conversation events into audio, falling back from a
// persona's cloned voice to a system voice and finally to silence.
package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"debatekit/core"
	"debatekit/utils/audio"
	"debatekit/utils/text"
)

const DefaultSynthesisTimeout = 20 * time.Second

// ClonedVoice speaks with a per-persona voice id.
type ClonedVoice interface {
	SynthesizeVoice(ctx context.Context, text, voiceID string) (core.AudioChunk, error)
}

// SystemVoice speaks with a fixed, built-in voice.
type SystemVoice interface {
	Synthesize(ctx context.Context, text string) (core.AudioChunk, error)
}

// Named is implemented by backends that report a name for logs and results.
type Named interface {
	Name() string
}

type Config struct {
	SynthesisTimeout time.Duration
	OutputFormat     core.AudioEncodingFormat
	// Presets are per-persona system voices; personas without one use the default system voice.
	Presets map[string]SystemVoice
}

// Router is stateless apart from its backends and is shared by all sessions.
type Router struct {
	cloned  ClonedVoice
	system  SystemVoice
	presets map[string]SystemVoice
	config  Config
	logger  *core.Logger
}

// NewRouter accepts nil for either backend; a missing backend is treated as unreachable.
func NewRouter(cloned ClonedVoice, system SystemVoice, config Config, logger *core.Logger) *Router {
	if config.SynthesisTimeout <= 0 {
		config.SynthesisTimeout = DefaultSynthesisTimeout
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Router{
		cloned:  cloned,
		system:  system,
		presets: config.Presets,
		config:  config,
		logger:  logger.With(map[string]interface{}{"component": "voice"}),
	}
}

// Render never fails: any backend error degrades to the next option and,
// when nothing can speak, to a silent result.
func (r *Router) Render(ctx context.Context, event core.ConversationEvent, persona core.Persona) core.AudioResult {
	logger := r.logger
	if l := core.SessionLoggerFromContext(ctx); l != nil {
		logger = l.With(map[string]interface{}{"component": "voice"})
	}

	speech := text.NormalizeForSpeech(event.Text)
	if speech == "" {
		return core.NewSilentResult("nothing to speak")
	}

	degraded := false
	reason := ""
	if persona.VoiceBackend == core.VoiceBackendCloned {
		if r.cloned == nil {
			degraded = true
			reason = "cloned voice not configured"
		} else {
			name := backendName(r.cloned, string(core.VoiceBackendCloned))
			chunk, err := r.synthesize(ctx, name, func(ctx context.Context) (core.AudioChunk, error) {
				return r.cloned.SynthesizeVoice(ctx, speech, persona.VoiceID)
			})
			if err == nil {
				return core.NewAudioResult(chunk, name)
			}
			logger.Warn("cloned voice failed, falling back to system voice", "persona", persona.ID, "turn", event.TurnIndex, "error", err)
			degraded = true
			reason = err.Error()
		}
	}

	system := r.systemFor(persona.ID)
	if system == nil {
		res := core.NewSilentResult("no system voice configured")
		res.Degraded = degraded
		return res
	}
	name := backendName(system, string(core.VoiceBackendSystem))
	chunk, err := r.synthesize(ctx, name, func(ctx context.Context) (core.AudioChunk, error) {
		return system.Synthesize(ctx, speech)
	})
	if err != nil {
		logger.Error("system voice failed, rendering silently", "persona", persona.ID, "turn", event.TurnIndex, "error", err)
		res := core.NewSilentResult(err.Error())
		res.Degraded = degraded
		return res
	}

	res := core.NewAudioResult(chunk, name)
	res.Degraded = degraded
	res.Reason = reason
	return res
}

func (r *Router) systemFor(personaID string) SystemVoice {
	if preset, ok := r.presets[personaID]; ok && preset != nil {
		return preset
	}
	return r.system
}

type synthesis struct {
	chunk core.AudioChunk
	err   error
}

// synthesize runs call under the synthesis timeout and encodes the result to
// the output format. Errors come back as *core.SynthesisError.
func (r *Router) synthesize(ctx context.Context, backend string, call func(context.Context) (core.AudioChunk, error)) (core.AudioChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.SynthesisTimeout)
	defer cancel()

	done := make(chan synthesis, 1)
	go func() {
		chunk, err := call(ctx)
		done <- synthesis{chunk: chunk, err: err}
	}()

	var res synthesis
	select {
	case <-ctx.Done():
		return core.AudioChunk{}, &core.SynthesisError{Backend: backend, Err: ctx.Err()}
	case res = <-done:
	}
	if res.err != nil {
		return core.AudioChunk{}, &core.SynthesisError{Backend: backend, Err: res.err}
	}
	if len(res.chunk.Data) == 0 {
		return core.AudioChunk{}, &core.SynthesisError{Backend: backend, Err: errors.New("empty audio")}
	}
	encoded, err := audio.Encode(res.chunk, r.config.OutputFormat)
	if err != nil {
		return core.AudioChunk{}, &core.SynthesisError{Backend: backend, Err: fmt.Errorf("encode %s: %w", r.config.OutputFormat, err)}
	}
	return encoded, nil
}

func backendName(backend interface{}, fallback string) string {
	if n, ok := backend.(Named); ok && n.Name() != "" {
		return n.Name()
	}
	return fallback
}
