// Package session owns the running conversations and exposes the control
// surface used by transports: start, advance, history, cancel, summary and close.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"debatekit/core"
	"debatekit/engine"
	"debatekit/registry"
	"debatekit/voice"

	"github.com/google/uuid"
)

type Config struct {
	// LogDir, when set, receives one <session>.jsonl transcript per session.
	LogDir string
	// Mirror, when set, opens an extra transcript for every new session.
	Mirror func(meta core.SessionMetadata) Transcript
}

// Transcript receives a session's log lines and played turns until Close.
type Transcript interface {
	core.LogWriter
	WriteEvent(event core.ConversationEvent)
}

// transcripts fans out to every open destination.
type transcripts []Transcript

func (t transcripts) Write(level, msg string, attrs map[string]interface{}) {
	for _, w := range t {
		w.Write(level, msg, attrs)
	}
}

func (t transcripts) WriteEvent(event core.ConversationEvent) {
	for _, w := range t {
		w.WriteEvent(event)
	}
}

func (t transcripts) Close() {
	for _, w := range t {
		w.Close()
	}
}

// Turn is the outcome of one Advance call. Event and Audio are zero when Ended is set.
type Turn struct {
	Event     core.ConversationEvent `json:"event"`
	Audio     core.AudioResult       `json:"-"`
	Ended     bool                   `json:"ended"`
	EndReason core.EndReason         `json:"end_reason,omitempty"`
}

// Summary is the end-of-session report: who broke, which triggers fired and how often.
type Summary struct {
	SessionID     string                  `json:"session_id"`
	TopicID       string                  `json:"topic_id"`
	Status        core.ConversationStatus `json:"status"`
	EndReason     core.EndReason          `json:"end_reason,omitempty"`
	Turns         int                     `json:"turns"`
	Intensity     map[string]int          `json:"intensity"`
	Breakpoints   []string                `json:"breakpoints"`
	TriggerCounts map[string]int          `json:"trigger_counts"`
	DegradedTurns int                     `json:"degraded_turns"`
	Highlights    []Highlight             `json:"highlights"`
	StartedAt     time.Time               `json:"started_at"`
}

// highlightContext is how many preceding lines a Highlight keeps.
const highlightContext = 3

// Highlight is a breaking-point moment: the turn whose triggers pushed
// PersonaID to max intensity, with the lines that led up to it.
type Highlight struct {
	TurnIndex  int      `json:"turn_index"`
	PersonaID  string   `json:"persona_id"`
	SpeakerID  string   `json:"speaker_persona_id"`
	TriggerIDs []string `json:"trigger_ids"`
	Text       string   `json:"text"`
	Context    []string `json:"context"`
}

type session struct {
	id        string
	mu        sync.Mutex // serializes turns
	state     *core.ConversationState
	logger    *core.Logger
	writer     Transcript
	startedAt  time.Time
	highlights []Highlight
}

// Manager holds independent sessions over shared immutable registries.
type Manager struct {
	personas *registry.PersonaRegistry
	topics   *registry.TopicCatalog
	engine   *engine.DialogueEngine
	voice    *voice.Router
	config   Config
	logger   *core.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewManager wires the session surface. router may be nil, in which case every turn renders silently.
func NewManager(
	personas *registry.PersonaRegistry,
	topics *registry.TopicCatalog,
	dialogue *engine.DialogueEngine,
	router *voice.Router,
	config Config,
	logger *core.Logger,
) *Manager {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Manager{
		personas: personas,
		topics:   topics,
		engine:   dialogue,
		voice:    router,
		config:   config,
		logger:   logger.With(map[string]interface{}{"component": "session"}),
		sessions: make(map[string]*session),
	}
}

// Topics lists the topics a session can be started from.
func (m *Manager) Topics() []core.Topic {
	return m.topics.All()
}

func (m *Manager) Topic(id string) (core.Topic, error) {
	return m.topics.Get(id)
}

// Personas returns the participants in speaking order.
func (m *Manager) Personas() []core.Persona {
	return m.personas.All()
}

// Start creates a session for topicID and returns its id.
func (m *Manager) Start(topicID string) (string, error) {
	topic, err := m.topics.Get(topicID)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	s := &session{
		id:        id,
		state:     core.NewConversationState(topic, m.personas.IDs()),
		startedAt: time.Now(),
	}
	s.logger = m.logger.With(map[string]interface{}{"session_id": id})

	meta := core.SessionMetadata{
		SessionID: id,
		TopicID:   topic.ID,
		Personas:  m.personas.IDs(),
		StartedAt: s.startedAt.UTC().Format(time.RFC3339),
	}
	var open transcripts
	if m.config.LogDir != "" {
		writer, err := core.NewSessionLogWriter(m.config.LogDir, meta)
		if err != nil {
			return "", fmt.Errorf("session: %w", err)
		}
		open = append(open, writer)
	}
	if m.config.Mirror != nil {
		if mirror := m.config.Mirror(meta); mirror != nil {
			open = append(open, mirror)
		}
	}
	if len(open) > 0 {
		s.writer = open
		s.logger = core.NewSessionLogger(m.logger, open).With(map[string]interface{}{"session_id": id})
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	s.logger.Info("session started", "topic", topic.ID)
	return id, nil
}

func (m *Manager) get(id string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, &core.NotFoundError{Kind: "session", ID: id}
	}
	return s, nil
}

// Advance plays the next turn of session id and voices it. Once the session has
// ended every call returns a Turn with Ended set and leaves the state untouched.
func (m *Manager) Advance(ctx context.Context, id string) (Turn, error) {
	s, err := m.get(id)
	if err != nil {
		return Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsEnded() {
		return Turn{Ended: true, EndReason: s.state.EndReason}, nil
	}

	ctx = core.ContextWithSessionLogger(ctx, s.logger)
	before := make(map[string]int, len(s.state.Intensity))
	for id, level := range s.state.Intensity {
		before[id] = level
	}
	event, ok := m.engine.Advance(ctx, s.state)
	if !ok {
		m.finish(s)
		return Turn{Ended: true, EndReason: s.state.EndReason}, nil
	}
	if s.writer != nil {
		s.writer.WriteEvent(event)
	}
	m.recordHighlights(s, event, before)

	return Turn{Event: event, Audio: m.render(ctx, event)}, nil
}

func (m *Manager) render(ctx context.Context, event core.ConversationEvent) core.AudioResult {
	if m.voice == nil {
		return core.NewSilentResult("voice disabled")
	}
	persona, err := m.personas.Get(event.SpeakerID)
	if err != nil {
		return core.NewSilentResult(err.Error())
	}
	return m.voice.Render(ctx, event, persona)
}

// recordHighlights notes every persona that event's triggers pushed to max intensity.
func (m *Manager) recordHighlights(s *session, event core.ConversationEvent, before map[string]int) {
	if len(event.Triggered) == 0 {
		return
	}
	maxIntensity := m.engine.Scheduler().Config().MaxIntensity
	var lead []string
	for _, pid := range m.personas.IDs() {
		if before[pid] >= maxIntensity || s.state.Intensity[pid] < maxIntensity {
			continue
		}
		if lead == nil {
			lead = m.contextBefore(s.state.History, event.TurnIndex)
		}
		s.highlights = append(s.highlights, Highlight{
			TurnIndex:  event.TurnIndex,
			PersonaID:  pid,
			SpeakerID:  event.SpeakerID,
			TriggerIDs: append([]string(nil), event.Triggered...),
			Text:       event.Text,
			Context:    lead,
		})
		s.logger.Info("breaking point", "persona", pid, "turn", event.TurnIndex, "triggers", event.Triggered)
	}
}

// contextBefore renders up to highlightContext lines preceding turn as "Name: text".
func (m *Manager) contextBefore(history []core.ConversationEvent, turn int) []string {
	start := turn - highlightContext
	if start < 0 {
		start = 0
	}
	lines := make([]string, 0, turn-start)
	for _, ev := range history[start:turn] {
		name := ev.SpeakerID
		if p, err := m.personas.Get(ev.SpeakerID); err == nil {
			name = p.DisplayName
		}
		lines = append(lines, name+": "+ev.Text)
	}
	return lines
}

// History returns a copy of the events recorded so far.
func (m *Manager) History(id string) ([]core.ConversationEvent, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.HistorySnapshot(), nil
}

// Cancel ends session id. It waits for an in-flight turn to complete rather
// than interrupting it, and is a no-op on a session that already ended.
func (m *Manager) Cancel(id string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.state.RequestCancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsEnded() {
		m.engine.Scheduler().Cancel(s.state)
		m.finish(s)
	}
	return nil
}

// finish runs once per session under s.mu when it reaches ENDED.
func (m *Manager) finish(s *session) {
	s.logger.Info("session ended", "reason", string(s.state.EndReason), "turns", s.state.TurnIndex)
	if s.writer != nil {
		s.writer.Close()
	}
}

// Summary reports the session's current standing; it is final once the session has ended.
func (m *Manager) Summary(id string) (Summary, error) {
	s, err := m.get(id)
	if err != nil {
		return Summary{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	maxIntensity := m.engine.Scheduler().Config().MaxIntensity
	sum := Summary{
		SessionID:     s.id,
		TopicID:       s.state.Topic.ID,
		Status:        s.state.Status,
		EndReason:     s.state.EndReason,
		Turns:         len(s.state.History),
		Intensity:     make(map[string]int, len(s.state.Intensity)),
		Breakpoints:   []string{},
		TriggerCounts: make(map[string]int),
		Highlights:    append([]Highlight{}, s.highlights...),
		StartedAt:     s.startedAt,
	}
	for _, pid := range m.personas.IDs() {
		level := s.state.Intensity[pid]
		sum.Intensity[pid] = level
		if level >= maxIntensity {
			sum.Breakpoints = append(sum.Breakpoints, pid)
		}
	}
	for _, ev := range s.state.History {
		for _, tid := range ev.Triggered {
			sum.TriggerCounts[tid]++
		}
		if ev.Degraded {
			sum.DegradedTurns++
		}
	}
	return sum, nil
}

// Close cancels session id if needed and forgets it.
func (m *Manager) Close(id string) error {
	if err := m.Cancel(id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// CloseAll cancels and drops every session. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.Close(id)
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
