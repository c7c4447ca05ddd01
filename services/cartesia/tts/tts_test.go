package cartesia

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"debatekit/core"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	mu      sync.Mutex
	query   string
	request cartesiaTTSRequest
}

func (c *captured) get() (string, cartesiaTTSRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query, c.request
}

// newServer answers one request per connection; respond builds the frames from the request.
func newServer(t *testing.T, got *captured, respond func(req cartesiaTTSRequest) [][]byte) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req cartesiaTTSRequest
		json.Unmarshal(data, &req)
		got.mu.Lock()
		got.query, got.request = r.URL.RawQuery, req
		got.mu.Unlock()
		for _, frame := range respond(req) {
			conn.WriteMessage(websocket.TextMessage, frame)
		}
	}))
}

func frame(v map[string]interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSynthesize_systemVoice(t *testing.T) {
	got := &captured{}
	srv := newServer(t, got, func(req cartesiaTTSRequest) [][]byte {
		return [][]byte{
			frame(map[string]interface{}{"type": "chunk", "context_id": "someone-else", "data": base64.StdEncoding.EncodeToString([]byte{7, 7})}),
			frame(map[string]interface{}{"type": "chunk", "context_id": req.ContextID, "data": base64.StdEncoding.EncodeToString([]byte{1, 2})}),
			frame(map[string]interface{}{"type": "chunk", "context_id": req.ContextID, "data": base64.StdEncoding.EncodeToString([]byte{3, 4})}),
			frame(map[string]interface{}{"type": "done", "context_id": req.ContextID, "done": true}),
		}
	})
	defer srv.Close()

	tts := NewCartesiaTTS(CartesiaTTSConfig{APIKey: "key", BaseURL: wsURL(srv), VoiceID: "system-voice", SampleRate: 16000}, core.NewNopLogger())
	chunk, err := tts.Synthesize(context.Background(), "Hello")
	require.NoError(t, err)

	assert.EqualValues(t, []byte{1, 2, 3, 4}, chunk.Data)
	assert.EqualValues(t, 16000, chunk.SampleRate)
	query, req := got.get()
	assert.Contains(t, query, "api_key=key")
	assert.Contains(t, query, "cartesia_version="+defaultCartesiaAPIVersion)
	assert.EqualValues(t, "Hello", req.Transcript)
	assert.EqualValues(t, "system-voice", req.Voice.ID)
	assert.EqualValues(t, "pcm_s16le", req.OutputFmt.Encoding)
	assert.EqualValues(t, 16000, req.OutputFmt.SampleRate)
	assert.NotEmpty(t, req.ContextID)
}

func TestSynthesizeVoice_usesPersonaVoice(t *testing.T) {
	got := &captured{}
	srv := newServer(t, got, func(req cartesiaTTSRequest) [][]byte {
		return [][]byte{
			frame(map[string]interface{}{"type": "chunk", "context_id": req.ContextID, "data": base64.StdEncoding.EncodeToString([]byte{1, 0})}),
			frame(map[string]interface{}{"type": "done", "context_id": req.ContextID, "done": true}),
		}
	})
	defer srv.Close()

	tts := NewCartesiaTTS(CartesiaTTSConfig{APIKey: "key", BaseURL: wsURL(srv)}, core.NewNopLogger())
	_, err := tts.SynthesizeVoice(context.Background(), "Hi", "cloned-42")
	require.NoError(t, err)
	_, req := got.get()
	assert.EqualValues(t, "cloned-42", req.Voice.ID)
	assert.EqualValues(t, defaultCartesiaModelID, req.ModelID)
}

func TestSynthesize_serverError(t *testing.T) {
	got := &captured{}
	srv := newServer(t, got, func(req cartesiaTTSRequest) [][]byte {
		return [][]byte{frame(map[string]interface{}{"type": "error", "context_id": req.ContextID, "status_code": 400, "error": "bad voice"})}
	})
	defer srv.Close()

	tts := NewCartesiaTTS(CartesiaTTSConfig{APIKey: "key", BaseURL: wsURL(srv)}, core.NewNopLogger())
	_, err := tts.Synthesize(context.Background(), "Hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad voice")
}

func TestSynthesize_requiresKey(t *testing.T) {
	tts := NewCartesiaTTS(CartesiaTTSConfig{}, core.NewNopLogger())
	_, err := tts.Synthesize(context.Background(), "Hi")
	assert.Error(t, err)
	assert.EqualValues(t, "cartesia", tts.Name())
}
