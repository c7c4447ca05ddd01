package protocol

import (
	"time"

	"debatekit/core"
)

// Dashboard (control plane) messages. The server dials out to the dashboard
// and reuses the same envelope as the client surface.
const (
	// Server -> dashboard
	MsgRegister  MessageType = "register"
	MsgHeartbeat MessageType = "heartbeat"
	MsgLog       MessageType = "log"
	MsgLogEnd    MessageType = "log_end"
	MsgEvent     MessageType = "event"

	// Dashboard -> server
	MsgShutdown MessageType = "shutdown"
)

// RegisterPayload is sent once immediately after connecting.
type RegisterPayload struct {
	ServerID  string            `json:"server_id"`
	Version   string            `json:"version,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type HeartbeatPayload struct {
	ServerID       string    `json:"server_id"`
	Timestamp      time.Time `json:"timestamp"`
	ActiveSessions int       `json:"active_sessions"`
	Status         string    `json:"status"` // "idle" or "running"
	// Dropped counts log and event messages discarded since connecting.
	Dropped int64 `json:"dropped,omitempty"`
}

// LogPayload carries one session log line.
type LogPayload struct {
	ServerID  string        `json:"server_id"`
	SessionID string        `json:"session_id"`
	Entry     core.LogEntry `json:"entry"`
}

// EventPayload carries one played turn.
type EventPayload struct {
	ServerID  string                 `json:"server_id"`
	SessionID string                 `json:"session_id"`
	Event     core.ConversationEvent `json:"event"`
}

// LogEndPayload signals that a session's stream has ended.
type LogEndPayload struct {
	ServerID  string `json:"server_id"`
	SessionID string `json:"session_id"`
}

type ShutdownPayload struct {
	Reason string `json:"reason,omitempty"`
}
