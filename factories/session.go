package factories

import (
	"fmt"
	"time"

	"debatekit/core"
	"debatekit/engine"
	"debatekit/registry"
	"debatekit/scheduler"
	"debatekit/session"
	"debatekit/triggers"
	"debatekit/voice"

	"github.com/bytedance/sonic"
)

// CatalogConfig points at the persona, topic and trigger files.
type CatalogConfig struct {
	Personas string `json:"personas"`
	Topics   string `json:"topics"`
	Triggers string `json:"triggers"`
}

// ConversationConfig holds the turn loop settings. MaxTurns and MaxIntensity
// have no defaults and must be set.
type ConversationConfig struct {
	MaxTurns            int    `json:"max_turns"`
	MaxIntensity        int    `json:"max_intensity"`
	HistoryWindow       int    `json:"history_window,omitempty"`
	GenerationTimeoutMs int    `json:"generation_timeout_ms,omitempty"`
	DefaultFallback     string `json:"default_fallback,omitempty"`
}

// VoiceConfig selects the voice backends. Both are optional; a turn nobody can voice renders silently.
type VoiceConfig struct {
	Cloned *TTSFactoryConfig `json:"cloned,omitempty"`
	System *TTSFactoryConfig `json:"system,omitempty"`
	// Presets give individual personas their own system voice, keyed by persona id.
	Presets            map[string]TTSFactoryConfig `json:"presets,omitempty"`
	OutputFormat       string                      `json:"output_format,omitempty"`
	SynthesisTimeoutMs int                         `json:"synthesis_timeout_ms,omitempty"`
}

// SessionConfig is everything needed to run conversations.
type SessionConfig struct {
	Catalog      CatalogConfig      `json:"catalog"`
	Conversation ConversationConfig `json:"conversation"`
	LLM          LLMFactoryConfig   `json:"llm"`
	Voice        VoiceConfig        `json:"voice"`
	LogDir       string             `json:"log_dir,omitempty"`

	// Mirror is wired at startup, e.g. to a control plane client.
	Mirror func(meta core.SessionMetadata) session.Transcript `json:"-"`
}

// DefaultSessionConfig fills everything that has a sensible default.
// Populate the LLM provider and conversation thresholds before calling Build.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Catalog: CatalogConfig{
			Personas: registry.DefaultPersonaFile,
			Topics:   registry.DefaultTopicFile,
			Triggers: triggers.DefaultTriggerFile,
		},
		Conversation: ConversationConfig{
			GenerationTimeoutMs: int(engine.DefaultGenerationTimeout / time.Millisecond),
			DefaultFallback:     engine.DefaultFallbackLine,
		},
		Voice: VoiceConfig{
			OutputFormat:       core.WAV.String(),
			SynthesisTimeoutMs: int(voice.DefaultSynthesisTimeout / time.Millisecond),
		},
	}
}

// SessionConfigFromJSON parses a JSON blob into a SessionConfig, starting from
// DefaultSessionConfig so that any fields absent from the JSON retain their defaults.
func SessionConfigFromJSON(data []byte) (SessionConfig, error) {
	cfg := DefaultSessionConfig()
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return SessionConfig{}, fmt.Errorf("session config: %w", err)
	}
	return cfg, nil
}

// APIKeys holds API credentials for all supported service providers.
// Pass to SessionConfig.InjectAPIKeys after loading from JSON so that
// secrets are not stored in config files.
type APIKeys struct {
	OpenAI     string
	DeepSeek   string
	GLM        string
	Together   string
	Groq       string
	OpenRouter string
	Mistral    string
	ElevenLabs string
	Cartesia   string
	Deepgram   string
}

// InjectAPIKeys fills every empty provider key from keys.
func (c *SessionConfig) InjectAPIKeys(keys APIKeys) {
	injectLLMKeys(&c.LLM, keys)
	if c.Voice.Cloned != nil {
		injectTTSKeys(c.Voice.Cloned, keys)
	}
	if c.Voice.System != nil {
		injectTTSKeys(c.Voice.System, keys)
	}
	for id, preset := range c.Voice.Presets {
		injectTTSKeys(&preset, keys)
		c.Voice.Presets[id] = preset
	}
}

// Runtime is the assembled object graph shared by every session.
type Runtime struct {
	Personas  *registry.PersonaRegistry
	Topics    *registry.TopicCatalog
	Triggers  *triggers.Index
	Scheduler *scheduler.TurnScheduler
	Engine    *engine.DialogueEngine
	Voice     *voice.Router
	Manager   *session.Manager
}

// Build loads the catalogs and constructs every component. Any configuration
// problem fails the whole build.
func (c SessionConfig) Build(logger *core.Logger) (*Runtime, error) {
	if logger == nil {
		logger = core.GetLogger()
	}

	personas, err := registry.LoadPersonaFile(c.Catalog.Personas)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	topics, err := registry.LoadTopicFile(c.Catalog.Topics)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	index, err := triggers.LoadFile(c.Catalog.Triggers, personas)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return c.build(personas, topics, index, logger)
}

func (c SessionConfig) build(personas *registry.PersonaRegistry, topics *registry.TopicCatalog, index *triggers.Index, logger *core.Logger) (*Runtime, error) {
	sched, err := scheduler.NewTurnScheduler(personas, scheduler.Config{
		MaxTurns:     c.Conversation.MaxTurns,
		MaxIntensity: c.Conversation.MaxIntensity,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	generator, err := BuildLLMService(c.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	dialogue := engine.NewDialogueEngine(personas, index, sched, generator, engine.Config{
		HistoryWindow:     c.Conversation.HistoryWindow,
		GenerationTimeout: time.Duration(c.Conversation.GenerationTimeoutMs) * time.Millisecond,
		DefaultFallback:   c.Conversation.DefaultFallback,
	}, logger)

	router, err := c.Voice.build(personas, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	logger.Info("runtime ready",
		"personas", personas.Len(),
		"triggers", index.Len(),
		"max_turns", c.Conversation.MaxTurns,
		"max_intensity", c.Conversation.MaxIntensity,
	)
	return &Runtime{
		Personas:  personas,
		Topics:    topics,
		Triggers:  index,
		Scheduler: sched,
		Engine:    dialogue,
		Voice:     router,
		Manager:   session.NewManager(personas, topics, dialogue, router, session.Config{LogDir: c.LogDir, Mirror: c.Mirror}, logger),
	}, nil
}

func (c VoiceConfig) build(personas *registry.PersonaRegistry, logger *core.Logger) (*voice.Router, error) {
	format := core.WAV
	if c.OutputFormat != "" {
		f, ok := core.ParseAudioFormat(c.OutputFormat)
		if !ok {
			return nil, &core.ConfigError{Source: "voice", Reason: fmt.Sprintf("unknown output_format %q", c.OutputFormat)}
		}
		format = f
	}

	var cloned voice.ClonedVoice
	if c.Cloned != nil {
		v, err := BuildClonedVoice(*c.Cloned, logger)
		if err != nil {
			return nil, err
		}
		cloned = v
	}
	var system voice.SystemVoice
	if c.System != nil {
		v, err := BuildSystemVoice(*c.System, logger)
		if err != nil {
			return nil, err
		}
		system = v
	}
	presets := make(map[string]voice.SystemVoice, len(c.Presets))
	for id, cfg := range c.Presets {
		if !personas.Has(id) {
			return nil, &core.ConfigError{Source: "voice", ID: id, Reason: "preset for unknown persona"}
		}
		v, err := BuildSystemVoice(cfg, logger)
		if err != nil {
			return nil, err
		}
		presets[id] = v
	}

	return voice.NewRouter(cloned, system, voice.Config{
		SynthesisTimeout: time.Duration(c.SynthesisTimeoutMs) * time.Millisecond,
		OutputFormat:     format,
		Presets:          presets,
	}, logger), nil
}
