package protocol

import (
	"encoding/base64"
	"encoding/json"

	"debatekit/core"
	"debatekit/session"
)

// MessageType enumerates all session control message types.
type MessageType string

const (
	// Client -> server
	MsgStartSession MessageType = "start_session"
	MsgAdvance      MessageType = "advance"
	MsgGetHistory   MessageType = "get_history"
	MsgCancel       MessageType = "cancel"
	MsgSummary      MessageType = "summary"
	MsgListTopics   MessageType = "list_topics"

	// Server -> client
	MsgSessionStarted MessageType = "session_started"
	MsgTurn           MessageType = "turn"
	MsgSessionEnded   MessageType = "session_ended"
	MsgHistory        MessageType = "history"
	MsgTopics         MessageType = "topics"
	MsgAck            MessageType = "ack"
	MsgError          MessageType = "error"
)

// Envelope is the outer JSON wrapper for all WebSocket messages.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Client -> server payloads ---

type StartSessionPayload struct {
	TopicID string `json:"topic_id"`
}

// SessionRequest addresses an existing session (advance, get_history, cancel, summary).
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// --- Server -> client payloads ---

type PersonaInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
}

type SessionStartedPayload struct {
	SessionID string        `json:"session_id"`
	Topic     core.Topic    `json:"topic"`
	Personas  []PersonaInfo `json:"personas"`
}

// AudioPayload carries one rendered line. Data is base64; it is empty for silent results.
type AudioPayload struct {
	Kind       core.AudioResultKind `json:"kind"`
	Format     string               `json:"format,omitempty"`
	MimeType   string               `json:"mime_type,omitempty"`
	SampleRate int                  `json:"sample_rate,omitempty"`
	Channels   int                  `json:"channels,omitempty"`
	Data       string               `json:"data,omitempty"`
	Backend    string               `json:"backend,omitempty"`
	Degraded   bool                 `json:"degraded,omitempty"`
	Reason     string               `json:"reason,omitempty"`
}

type TurnPayload struct {
	SessionID string                 `json:"session_id"`
	Event     core.ConversationEvent `json:"event"`
	Audio     AudioPayload           `json:"audio"`
}

type SessionEndedPayload struct {
	SessionID string         `json:"session_id"`
	Reason    core.EndReason `json:"reason"`
}

type HistoryPayload struct {
	SessionID string                   `json:"session_id"`
	Events    []core.ConversationEvent `json:"events"`
}

type TopicsPayload struct {
	Topics []core.Topic `json:"topics"`
}

type SummaryPayload struct {
	Summary session.Summary `json:"summary"`
}

type AckPayload struct {
	Request   MessageType `json:"request"`
	SessionID string      `json:"session_id,omitempty"`
}

// Error codes carried by ErrorPayload.
const (
	CodeBadRequest = "bad_request"
	CodeNotFound   = "not_found"
	CodeInternal   = "internal"
)

type ErrorPayload struct {
	Request MessageType `json:"request,omitempty"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// NewAudioPayload flattens an AudioResult for the wire.
func NewAudioPayload(res core.AudioResult) AudioPayload {
	p := AudioPayload{
		Kind:     res.Kind,
		Backend:  res.Backend,
		Degraded: res.Degraded,
		Reason:   res.Reason,
	}
	if res.IsSilent() {
		return p
	}
	p.Format = res.Audio.Format.String()
	p.MimeType = res.Audio.Format.MimeType()
	p.SampleRate = res.Audio.SampleRate
	p.Channels = res.Audio.Channels
	p.Data = base64.StdEncoding.EncodeToString(res.Audio.Data)
	return p
}

func NewPersonaInfos(personas []core.Persona) []PersonaInfo {
	out := make([]PersonaInfo, len(personas))
	for i, p := range personas {
		out[i] = PersonaInfo{ID: p.ID, DisplayName: p.DisplayName, Avatar: p.Avatar}
	}
	return out
}
