package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"debatekit/core"

	"github.com/sashabaranov/go-openai"
)

// Config holds the configuration for an OpenAI-compatible chat endpoint.
type Config struct {
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url,omitempty"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	Streaming   bool    `json:"streaming,omitempty"`
}

// OpenAILLMService generates persona lines through the chat completions API.
// It is safe for concurrent use by many sessions.
type OpenAILLMService struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	streaming   bool
	logger      *core.Logger
}

func NewOpenAILLMService(config Config, logger *core.Logger) *OpenAILLMService {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &OpenAILLMService{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       config.Model,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		streaming:   config.Streaming,
		logger:      logger.With(map[string]interface{}{"service": "openai", "model": config.Model}),
	}
}

// Generate returns the assistant reply for prompt.
func (s *OpenAILLMService) Generate(ctx context.Context, prompt core.LLMContext) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    s.convertMessages(prompt.Messages),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}
	if s.streaming {
		return s.runStreamingCompletion(ctx, req)
	}
	return s.runNonStreamingCompletion(ctx, req)
}

func (s *OpenAILLMService) runNonStreamingCompletion(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	s.logger.Debug("completion", "prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}

// runStreamingCompletion accumulates the streamed deltas into one reply.
func (s *OpenAILLMService) runStreamingCompletion(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	req.Stream = true
	stream, err := s.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create stream: %w", err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("stream: %w", err)
		}
		for _, choice := range resp.Choices {
			b.WriteString(choice.Delta.Content)
		}
	}
}

func (s *OpenAILLMService) convertMessages(messages []core.LLMMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    s.convertRole(msg.Role),
			Content: msg.Message,
		})
	}
	return out
}

func (s *OpenAILLMService) convertRole(role core.LLMMessageRole) string {
	switch role {
	case core.LLMMessageRoleAssistant:
		return openai.ChatMessageRoleAssistant
	case core.LLMMessageRoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
