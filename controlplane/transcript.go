package controlplane

import "debatekit/core"

// Transcript mirrors one session's log lines and turns to the dashboard.
type Transcript struct {
	client    *Client
	sessionID string
}

func (c *Client) NewTranscript(sessionID string) *Transcript {
	return &Transcript{client: c, sessionID: sessionID}
}

func (t *Transcript) Write(level, msg string, attrs map[string]interface{}) {
	t.client.SendLog(t.sessionID, core.NewLogEntry(level, msg, attrs))
}

func (t *Transcript) WriteEvent(event core.ConversationEvent) {
	t.client.SendEvent(t.sessionID, event)
}

// Close signals the end of the session's stream.
func (t *Transcript) Close() {
	t.client.SendLogEnd(t.sessionID)
}
