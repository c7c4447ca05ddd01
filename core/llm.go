package core

type LLMMessageRole string

const (
	LLMMessageRoleUser      LLMMessageRole = "user"
	LLMMessageRoleAssistant LLMMessageRole = "assistant"
	LLMMessageRoleSystem    LLMMessageRole = "system"
)

// LLMMessage represents a message exchanged with the LLM.
type LLMMessage struct {
	Role    LLMMessageRole `json:"role"`    // Role of the message sender (user, assistant, system).
	Message string         `json:"message"` // Content of the message.
}

// LLMContext is the ordered prompt handed to a generator for one turn.
type LLMContext struct {
	Messages []LLMMessage `json:"messages"`
}

func (c *LLMContext) AddSystemMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleSystem, Message: text})
}

func (c *LLMContext) AddUserMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleUser, Message: text})
}

func (c *LLMContext) AddAssistantMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleAssistant, Message: text})
}

// LastMessage returns the final message, or a zero value for an empty context.
func (c *LLMContext) LastMessage() LLMMessage {
	if len(c.Messages) == 0 {
		return LLMMessage{}
	}
	return c.Messages[len(c.Messages)-1]
}
