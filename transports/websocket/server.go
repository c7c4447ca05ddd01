// Package websocket exposes the session control surface to browser clients.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"debatekit/core"
	"debatekit/protocol"
	"debatekit/session"

	"github.com/gorilla/websocket"
)

const (
	defaultPath           = "/ws"
	defaultSendBufferSize = 64
	defaultPingInterval   = 20 * time.Second
	writeTimeout          = 10 * time.Second
	maxMessageSize        = 64 * 1024
)

type Config struct {
	Path           string        `json:"path"`
	AllowedOrigins []string      `json:"allowed_origins,omitempty"`
	SendBufferSize int           `json:"send_buffer_size,omitempty"`
	PingInterval   time.Duration `json:"-"`
}

// Server upgrades HTTP requests and speaks the envelope protocol on each connection.
// Sessions started on a connection are closed when it drops.
type Server struct {
	manager  *session.Manager
	config   Config
	logger   *core.Logger
	upgrader websocket.Upgrader

	// turns run on baseCtx so a dropped connection never interrupts a turn in flight
	baseCtx context.Context
	wg      sync.WaitGroup

	mu       sync.Mutex
	draining bool
	conns    map[*connection]struct{}
}

// errDraining rejects work that arrives after Drain has begun.
var errDraining = errors.New("server is shutting down")

func NewServer(manager *session.Manager, config Config, logger *core.Logger) *Server {
	if config.Path == "" {
		config.Path = defaultPath
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = defaultSendBufferSize
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaultPingInterval
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	s := &Server{
		manager: manager,
		config:  config,
		logger:  logger.With(map[string]interface{}{"component": "websocket"}),
		baseCtx: context.Background(),
		conns:   make(map[*connection]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Handler serves the websocket endpoint and a health check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, s)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &connection{
		server:   s,
		conn:     conn,
		sendCh:   make(chan []byte, s.config.SendBufferSize),
		done:     make(chan struct{}),
		sessions: make(map[string]struct{}),
		logger:   s.logger.With(map[string]interface{}{"remote": r.RemoteAddr}),
	}

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, errDraining.Error()),
			time.Now().Add(writeTimeout))
		conn.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	c.run()

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Wait blocks until every in-flight turn has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// beginTurn registers a turn unless the server is draining.
func (s *Server) beginTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.wg.Add(1)
	return true
}

// stopTurns refuses further turns and connections and returns the live connections.
func (s *Server) stopTurns() []*connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = true
	conns := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// Drain stops accepting turns, drops every connection and waits for turns in
// flight. Hijacked websocket connections survive http.Server.Shutdown, so call
// this after it.
func (s *Server) Drain() {
	conns := s.stopTurns()
	s.logger.Info("draining", "connections", len(conns))
	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()
}

type connection struct {
	server *Server
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
	logger *core.Logger

	mu       sync.Mutex
	sessions map[string]struct{}
}

func (c *connection) run() {
	c.logger.Info("client connected")
	go c.writeLoop()
	c.readLoop()

	c.close()
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	// a client going away ends its sessions; in-flight turns finish first
	for _, id := range ids {
		c.server.manager.Close(id)
	}
	c.logger.Info("client disconnected", "sessions_closed", len(ids))
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *connection) readLoop() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(2 * c.server.config.PingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * c.server.config.PingInterval))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("connection lost", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(2 * c.server.config.PingInterval))

		msgType, payload, err := protocol.Unmarshal(data)
		if err != nil {
			c.sendError("", protocol.CodeBadRequest, err)
			continue
		}
		c.dispatch(msgType, payload)
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(c.server.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("write failed", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *connection) dispatch(msgType protocol.MessageType, payload json.RawMessage) {
	manager := c.server.manager
	switch msgType {
	case protocol.MsgListTopics:
		c.send(protocol.MsgTopics, protocol.TopicsPayload{Topics: manager.Topics()})

	case protocol.MsgStartSession:
		p, err := protocol.UnmarshalPayload[protocol.StartSessionPayload](payload)
		if err != nil {
			c.sendError(msgType, protocol.CodeBadRequest, err)
			return
		}
		id, err := manager.Start(p.TopicID)
		if err != nil {
			c.sendError(msgType, errorCode(err), err)
			return
		}
		c.mu.Lock()
		c.sessions[id] = struct{}{}
		c.mu.Unlock()
		topic, _ := manager.Topic(p.TopicID)
		c.send(protocol.MsgSessionStarted, protocol.SessionStartedPayload{
			SessionID: id,
			Topic:     topic,
			Personas:  protocol.NewPersonaInfos(manager.Personas()),
		})

	case protocol.MsgAdvance, protocol.MsgGetHistory, protocol.MsgCancel, protocol.MsgSummary:
		p, err := protocol.UnmarshalPayload[protocol.SessionRequest](payload)
		if err != nil {
			c.sendError(msgType, protocol.CodeBadRequest, err)
			return
		}
		if p.SessionID == "" {
			c.sendError(msgType, protocol.CodeBadRequest, errors.New("session_id is required"))
			return
		}
		c.handleSession(msgType, p.SessionID)

	default:
		c.sendError(msgType, protocol.CodeBadRequest, errors.New("unknown message type"))
	}
}

func (c *connection) handleSession(msgType protocol.MessageType, id string) {
	manager := c.server.manager
	switch msgType {
	case protocol.MsgAdvance:
		// turns can take seconds; keep reading so cancel and history stay responsive
		if !c.server.beginTurn() {
			c.sendError(msgType, protocol.CodeInternal, errDraining)
			return
		}
		go func() {
			defer c.server.wg.Done()
			turn, err := manager.Advance(c.server.baseCtx, id)
			if err != nil {
				c.sendError(msgType, errorCode(err), err)
				return
			}
			if turn.Ended {
				c.send(protocol.MsgSessionEnded, protocol.SessionEndedPayload{SessionID: id, Reason: turn.EndReason})
				return
			}
			c.send(protocol.MsgTurn, protocol.TurnPayload{
				SessionID: id,
				Event:     turn.Event,
				Audio:     protocol.NewAudioPayload(turn.Audio),
			})
		}()

	case protocol.MsgGetHistory:
		events, err := manager.History(id)
		if err != nil {
			c.sendError(msgType, errorCode(err), err)
			return
		}
		c.send(protocol.MsgHistory, protocol.HistoryPayload{SessionID: id, Events: events})

	case protocol.MsgCancel:
		if err := manager.Cancel(id); err != nil {
			c.sendError(msgType, errorCode(err), err)
			return
		}
		c.send(protocol.MsgAck, protocol.AckPayload{Request: msgType, SessionID: id})

	case protocol.MsgSummary:
		sum, err := manager.Summary(id)
		if err != nil {
			c.sendError(msgType, errorCode(err), err)
			return
		}
		c.send(protocol.MsgSummary, protocol.SummaryPayload{Summary: sum})
	}
}

func (c *connection) send(msgType protocol.MessageType, payload interface{}) {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		c.logger.Error("failed to marshal message, dropping", "type", string(msgType), "error", err)
		return
	}
	select {
	case c.sendCh <- data:
	case <-c.done:
	}
}

func (c *connection) sendError(request protocol.MessageType, code string, err error) {
	c.send(protocol.MsgError, protocol.ErrorPayload{Request: request, Code: code, Message: err.Error()})
}

func errorCode(err error) string {
	switch {
	case core.IsNotFound(err):
		return protocol.CodeNotFound
	case core.IsConfigError(err):
		return protocol.CodeBadRequest
	default:
		return protocol.CodeInternal
	}
}
