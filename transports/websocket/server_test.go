package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"debatekit/core"
	"debatekit/engine"
	"debatekit/protocol"
	"debatekit/registry"
	"debatekit/scheduler"
	"debatekit/session"
	mockllm "debatekit/services/mock/llm"
	mocktts "debatekit/services/mock/tts"
	"debatekit/triggers"
	"debatekit/voice"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, maxTurns int) *session.Manager {
	t.Helper()
	logger := core.NewNopLogger()
	personas, err := registry.LoadPersonas([]registry.PersonaDefinition{
		{ID: "a", DisplayName: "Alpha", StylePrompt: "s", VoiceBackend: "system_voice", Avatar: "🅰"},
		{ID: "b", DisplayName: "Beta", StylePrompt: "s", VoiceBackend: "system_voice"},
	})
	require.NoError(t, err)
	topics, err := registry.LoadTopics([]registry.TopicDefinition{{ID: "tariffs", PromptText: "Debate tariffs."}})
	require.NoError(t, err)
	index, err := triggers.Load(nil, personas)
	require.NoError(t, err)
	sched, err := scheduler.NewTurnScheduler(personas, scheduler.Config{MaxTurns: maxTurns, MaxIntensity: 3}, logger)
	require.NoError(t, err)
	dialogue := engine.NewDialogueEngine(personas, index, sched, mockllm.NewMockLLM(mockllm.Config{}), engine.Config{}, logger)
	router := voice.NewRouter(nil, mocktts.NewMockTTS(mocktts.Config{Name: "system"}), voice.Config{OutputFormat: core.WAV}, logger)
	return session.NewManager(personas, topics, dialogue, router, session.Config{}, logger)
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, path string) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	require.NoError(t, err)
	return &client{t: t, conn: conn}
}

func (c *client) send(msgType protocol.MessageType, payload interface{}) {
	data, err := protocol.Marshal(msgType, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, data))
}

func (c *client) sendRaw(data string) {
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

// expect reads the next message, which must be of msgType, and decodes its payload.
func expect[T any](c *client, msgType protocol.MessageType) T {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	got, raw, err := protocol.Unmarshal(data)
	require.NoError(c.t, err)
	require.EqualValues(c.t, msgType, got, string(data))
	p, err := protocol.UnmarshalPayload[T](raw)
	require.NoError(c.t, err)
	return p
}

func TestServer_sessionFlow(t *testing.T) {
	manager := newManager(t, 2)
	server := NewServer(manager, Config{}, core.NewNopLogger())
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	c := dial(t, srv, "/ws")
	defer c.conn.Close()

	c.send(protocol.MsgListTopics, nil)
	topics := expect[protocol.TopicsPayload](c, protocol.MsgTopics)
	require.Len(t, topics.Topics, 1)
	assert.EqualValues(t, "tariffs", topics.Topics[0].ID)

	c.send(protocol.MsgStartSession, protocol.StartSessionPayload{TopicID: "tariffs"})
	started := expect[protocol.SessionStartedPayload](c, protocol.MsgSessionStarted)
	require.NotEmpty(t, started.SessionID)
	require.Len(t, started.Personas, 2)
	assert.EqualValues(t, "🅰", started.Personas[0].Avatar)
	id := started.SessionID

	for i := 0; i < 2; i++ {
		c.send(protocol.MsgAdvance, protocol.SessionRequest{SessionID: id})
		turn := expect[protocol.TurnPayload](c, protocol.MsgTurn)
		assert.EqualValues(t, i, turn.Event.TurnIndex)
		assert.EqualValues(t, core.AudioKindAudio, turn.Audio.Kind)
		assert.EqualValues(t, "audio/wav", turn.Audio.MimeType)
		assert.NotEmpty(t, turn.Audio.Data)
	}

	c.send(protocol.MsgAdvance, protocol.SessionRequest{SessionID: id})
	ended := expect[protocol.SessionEndedPayload](c, protocol.MsgSessionEnded)
	assert.EqualValues(t, core.EndReasonMaxTurns, ended.Reason)

	c.send(protocol.MsgGetHistory, protocol.SessionRequest{SessionID: id})
	history := expect[protocol.HistoryPayload](c, protocol.MsgHistory)
	assert.Len(t, history.Events, 2)

	c.send(protocol.MsgSummary, protocol.SessionRequest{SessionID: id})
	summary := expect[protocol.SummaryPayload](c, protocol.MsgSummary)
	assert.EqualValues(t, 2, summary.Summary.Turns)
	assert.EqualValues(t, core.StatusEnded, summary.Summary.Status)

	c.send(protocol.MsgCancel, protocol.SessionRequest{SessionID: id})
	ack := expect[protocol.AckPayload](c, protocol.MsgAck)
	assert.EqualValues(t, protocol.MsgCancel, ack.Request)
}

func TestServer_errors(t *testing.T) {
	manager := newManager(t, 2)
	srv := httptest.NewServer(NewServer(manager, Config{}, core.NewNopLogger()).Handler())
	defer srv.Close()

	c := dial(t, srv, "/ws")
	defer c.conn.Close()

	cases := []struct {
		name    string
		send    func()
		request protocol.MessageType
		code    string
	}{
		{name: "unknown topic", send: func() { c.send(protocol.MsgStartSession, protocol.StartSessionPayload{TopicID: "nope"}) }, request: protocol.MsgStartSession, code: protocol.CodeNotFound},
		{name: "unknown session", send: func() { c.send(protocol.MsgAdvance, protocol.SessionRequest{SessionID: "nope"}) }, request: protocol.MsgAdvance, code: protocol.CodeNotFound},
		{name: "missing session id", send: func() { c.send(protocol.MsgGetHistory, protocol.SessionRequest{}) }, request: protocol.MsgGetHistory, code: protocol.CodeBadRequest},
		{name: "unknown type", send: func() { c.sendRaw(`{"type":"dance"}`) }, request: "dance", code: protocol.CodeBadRequest},
		{name: "not json", send: func() { c.sendRaw(`hello`) }, request: "", code: protocol.CodeBadRequest},
	}
	for _, tc := range cases {
		tc.send()
		p := expect[protocol.ErrorPayload](c, protocol.MsgError)
		assert.EqualValues(t, tc.request, p.Request, tc.name)
		assert.EqualValues(t, tc.code, p.Code, tc.name)
		assert.NotEmpty(t, p.Message, tc.name)
	}
}

func TestServer_disconnectClosesSessions(t *testing.T) {
	manager := newManager(t, 10)
	server := NewServer(manager, Config{}, core.NewNopLogger())
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	c := dial(t, srv, "/ws")
	c.send(protocol.MsgStartSession, protocol.StartSessionPayload{TopicID: "tariffs"})
	expect[protocol.SessionStartedPayload](c, protocol.MsgSessionStarted)
	assert.EqualValues(t, 1, manager.Len())

	c.conn.Close()
	assert.Eventually(t, func() bool { return manager.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	server.Wait()
}

func TestServer_healthzAndOrigin(t *testing.T) {
	manager := newManager(t, 1)
	srv := httptest.NewServer(NewServer(manager, Config{Path: "/debate", AllowedOrigins: []string{"https://ok.example"}}, core.NewNopLogger()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.EqualValues(t, http.StatusOK, resp.StatusCode)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/debate"
	_, resp, err = websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	assert.Error(t, err)
	if resp != nil {
		assert.EqualValues(t, http.StatusForbidden, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://ok.example"}})
	require.NoError(t, err)
	conn.Close()
}

func TestServer_drainRefusesTurns(t *testing.T) {
	manager := newManager(t, 10)
	server := NewServer(manager, Config{}, core.NewNopLogger())
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	c := dial(t, srv, "/ws")
	defer c.conn.Close()
	c.send(protocol.MsgStartSession, protocol.StartSessionPayload{TopicID: "tariffs"})
	id := expect[protocol.SessionStartedPayload](c, protocol.MsgSessionStarted).SessionID

	c.send(protocol.MsgAdvance, protocol.SessionRequest{SessionID: id})
	expect[protocol.TurnPayload](c, protocol.MsgTurn)

	server.stopTurns()
	c.send(protocol.MsgAdvance, protocol.SessionRequest{SessionID: id})
	p := expect[protocol.ErrorPayload](c, protocol.MsgError)
	assert.EqualValues(t, protocol.MsgAdvance, p.Request)
	assert.EqualValues(t, protocol.CodeInternal, p.Code)

	// history is still served while draining
	c.send(protocol.MsgGetHistory, protocol.SessionRequest{SessionID: id})
	assert.Len(t, expect[protocol.HistoryPayload](c, protocol.MsgHistory).Events, 1)

	server.Drain()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := c.conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return manager.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	late := dial(t, srv, "/ws")
	defer late.conn.Close()
	late.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = late.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "%v", err)
}
