package factories

import (
	"debatekit/core"
	cartesia "debatekit/services/cartesia/tts"
	deepgramtts "debatekit/services/deepgram/tts"
	elevenlabs "debatekit/services/elevenlabs/tts"
	mocktts "debatekit/services/mock/tts"
	"debatekit/voice"
)

// TTSFactoryConfig holds provider-specific configs for voice backend construction.
// Set exactly one provider config; the rest should be left nil.
type TTSFactoryConfig struct {
	DeepgramConfig   *deepgramtts.DeepgramTTSConfig  `json:"deepgram,omitempty"`
	ElevenLabsConfig *elevenlabs.ElevenLabsTTSConfig `json:"elevenlabs,omitempty"`
	CartesiaConfig   *cartesia.CartesiaTTSConfig     `json:"cartesia,omitempty"`
	MockConfig       *mocktts.Config                 `json:"mock,omitempty"`
}

func (c TTSFactoryConfig) providers() int {
	n := 0
	for _, set := range []bool{c.DeepgramConfig != nil, c.ElevenLabsConfig != nil, c.CartesiaConfig != nil, c.MockConfig != nil} {
		if set {
			n++
		}
	}
	return n
}

func (c TTSFactoryConfig) check(kind string) error {
	switch n := c.providers(); {
	case n == 0:
		return &core.ConfigError{Source: kind, Reason: "no provider config specified"}
	case n > 1:
		return &core.ConfigError{Source: kind, Reason: "exactly one provider config must be set"}
	}
	return nil
}

// BuildClonedVoice constructs the per-persona voice backend. Deepgram has no
// voice cloning and is rejected.
func BuildClonedVoice(config TTSFactoryConfig, logger *core.Logger) (voice.ClonedVoice, error) {
	if err := config.check("cloned_voice"); err != nil {
		return nil, err
	}
	switch {
	case config.ElevenLabsConfig != nil:
		return elevenlabs.NewElevenLabsTTS(*config.ElevenLabsConfig, logger), nil
	case config.CartesiaConfig != nil:
		return cartesia.NewCartesiaTTS(*config.CartesiaConfig, logger), nil
	case config.MockConfig != nil:
		return mocktts.NewMockTTS(*config.MockConfig), nil
	default:
		return nil, &core.ConfigError{Source: "cloned_voice", Reason: "deepgram does not support cloned voices"}
	}
}

// BuildSystemVoice constructs a fixed-voice backend. ElevenLabs needs a voice
// id per call and is only offered as a cloned voice.
func BuildSystemVoice(config TTSFactoryConfig, logger *core.Logger) (voice.SystemVoice, error) {
	if err := config.check("system_voice"); err != nil {
		return nil, err
	}
	switch {
	case config.DeepgramConfig != nil:
		return deepgramtts.NewDeepgramTTS(*config.DeepgramConfig, logger), nil
	case config.CartesiaConfig != nil:
		return cartesia.NewCartesiaTTS(*config.CartesiaConfig, logger), nil
	case config.MockConfig != nil:
		return mocktts.NewMockTTS(*config.MockConfig), nil
	default:
		return nil, &core.ConfigError{Source: "system_voice", Reason: "elevenlabs is only supported as a cloned voice"}
	}
}

func injectTTSKeys(cfg *TTSFactoryConfig, keys APIKeys) {
	if cfg.DeepgramConfig != nil && cfg.DeepgramConfig.APIKey == "" {
		cfg.DeepgramConfig.APIKey = keys.Deepgram
	}
	if cfg.ElevenLabsConfig != nil && cfg.ElevenLabsConfig.APIKey == "" {
		cfg.ElevenLabsConfig.APIKey = keys.ElevenLabs
	}
	if cfg.CartesiaConfig != nil && cfg.CartesiaConfig.APIKey == "" {
		cfg.CartesiaConfig.APIKey = keys.Cartesia
	}
}
