package factories

import (
	"debatekit/core"
	"debatekit/engine"
	mockllm "debatekit/services/mock/llm"
	openaillm "debatekit/services/openai/llm"
)

// LLMFactoryConfig holds provider-specific configs for generator construction.
// Set exactly one provider config; the rest should be left nil.
// All non-OpenAI providers use the OpenAI-compatible protocol and are
// implemented via the same OpenAI service with a custom base URL.
type LLMFactoryConfig struct {
	OpenAIConfig     *openaillm.Config `json:"openai,omitempty"`
	DeepSeekConfig   *openaillm.Config `json:"deepseek,omitempty"`
	GLMConfig        *openaillm.Config `json:"glm,omitempty"`
	TogetherConfig   *openaillm.Config `json:"together,omitempty"`
	GroqConfig       *openaillm.Config `json:"groq,omitempty"`
	OpenRouterConfig *openaillm.Config `json:"openrouter,omitempty"`
	MistralConfig    *openaillm.Config `json:"mistral,omitempty"`
	MockConfig       *mockllm.Config   `json:"mock,omitempty"`
}

// Default base URLs for OpenAI-compatible providers.
const (
	deepseekBaseURL   = "https://api.deepseek.com/v1"
	glmBaseURL        = "https://open.bigmodel.cn/api/paas/v4"
	togetherBaseURL   = "https://api.together.xyz/v1"
	groqBaseURL       = "https://api.groq.com/openai/v1"
	openrouterBaseURL = "https://openrouter.ai/api/v1"
	mistralBaseURL    = "https://api.mistral.ai/v1"
)

func (c LLMFactoryConfig) providers() int {
	n := 0
	for _, set := range []bool{
		c.OpenAIConfig != nil, c.DeepSeekConfig != nil, c.GLMConfig != nil, c.TogetherConfig != nil,
		c.GroqConfig != nil, c.OpenRouterConfig != nil, c.MistralConfig != nil, c.MockConfig != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// BuildLLMService constructs a generator from the given factory config.
// Exactly one provider config must be non-nil.
func BuildLLMService(config LLMFactoryConfig, logger *core.Logger) (engine.Generator, error) {
	switch n := config.providers(); {
	case n == 0:
		return nil, &core.ConfigError{Source: "llm", Reason: "no provider config specified"}
	case n > 1:
		return nil, &core.ConfigError{Source: "llm", Reason: "exactly one provider config must be set"}
	}

	switch {
	case config.OpenAIConfig != nil:
		return openaillm.NewOpenAILLMService(*config.OpenAIConfig, logger), nil
	case config.DeepSeekConfig != nil:
		return buildOpenAICompatible(*config.DeepSeekConfig, deepseekBaseURL, "deepseek-chat", logger), nil
	case config.GLMConfig != nil:
		return buildOpenAICompatible(*config.GLMConfig, glmBaseURL, "glm-4-flash", logger), nil
	case config.TogetherConfig != nil:
		return buildOpenAICompatible(*config.TogetherConfig, togetherBaseURL, "meta-llama/Llama-3.3-70B-Instruct-Turbo", logger), nil
	case config.GroqConfig != nil:
		return buildOpenAICompatible(*config.GroqConfig, groqBaseURL, "llama-3.3-70b-versatile", logger), nil
	case config.OpenRouterConfig != nil:
		return buildOpenAICompatible(*config.OpenRouterConfig, openrouterBaseURL, "openai/gpt-4o", logger), nil
	case config.MistralConfig != nil:
		return buildOpenAICompatible(*config.MistralConfig, mistralBaseURL, "mistral-large-latest", logger), nil
	default:
		return mockllm.NewMockLLM(*config.MockConfig), nil
	}
}

// buildOpenAICompatible applies the default base URL and model when the config leaves them empty.
func buildOpenAICompatible(cfg openaillm.Config, defaultBaseURL, defaultModel string, logger *core.Logger) *openaillm.OpenAILLMService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return openaillm.NewOpenAILLMService(cfg, logger)
}

func injectLLMKeys(cfg *LLMFactoryConfig, keys APIKeys) {
	for _, pair := range []struct {
		cfg *openaillm.Config
		key string
	}{
		{cfg.OpenAIConfig, keys.OpenAI},
		{cfg.DeepSeekConfig, keys.DeepSeek},
		{cfg.GLMConfig, keys.GLM},
		{cfg.TogetherConfig, keys.Together},
		{cfg.GroqConfig, keys.Groq},
		{cfg.OpenRouterConfig, keys.OpenRouter},
		{cfg.MistralConfig, keys.Mistral},
	} {
		if pair.cfg != nil && pair.cfg.APIKey == "" {
			pair.cfg.APIKey = pair.key
		}
	}
}
