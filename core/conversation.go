package core

import (
	"sync/atomic"
	"time"
)

// VoiceBackend selects which synthesis collaborator voices a persona.
type VoiceBackend string

const (
	VoiceBackendCloned VoiceBackend = "cloned_voice"
	VoiceBackendSystem VoiceBackend = "system_voice"
)

// Persona is one debating participant. Immutable after its registry is loaded.
type Persona struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"display_name"`
	StylePrompt  string       `json:"style_prompt"`
	VoiceBackend VoiceBackend `json:"voice_backend"`
	VoiceID      string       `json:"voice_id,omitempty"` // only for cloned voices
	Avatar       string       `json:"avatar,omitempty"`
	FallbackLine string       `json:"fallback_line,omitempty"`
}

// Topic seeds one conversation session.
type Topic struct {
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	Category   string `json:"category,omitempty"`
	PromptText string `json:"prompt_text"`
}

type TriggerScope string

const (
	TriggerScopeGlobal     TriggerScope = "global"
	TriggerScopePerPersona TriggerScope = "per_persona"
)

type EscalationEffect string

const (
	EffectRaiseIntensity  EscalationEffect = "raise_intensity"
	EffectForceMeltdown   EscalationEffect = "force_meltdown"
	EffectEndConversation EscalationEffect = "end_conversation"
)

// Trigger is a "breaking point" rule. Firing history lives in ConversationState, never here.
type Trigger struct {
	ID            string           `json:"id"`
	MatchPhrases  []string         `json:"match_phrases"`
	Scope         TriggerScope     `json:"scope"`
	PersonaID     string           `json:"persona_id,omitempty"` // set for per_persona scope
	Effect        EscalationEffect `json:"escalation_effect"`
	CooldownTurns int              `json:"cooldown_turns"`
}

type ConversationStatus string

const (
	StatusWaiting ConversationStatus = "waiting_to_start"
	StatusRunning ConversationStatus = "running"
	StatusEnded   ConversationStatus = "ended"
)

type EndReason string

const (
	EndReasonNone           EndReason = ""
	EndReasonTrigger        EndReason = "end_trigger"
	EndReasonMaxTurns       EndReason = "max_turns"
	EndReasonMutualMeltdown EndReason = "mutual_meltdown"
	EndReasonCancelled      EndReason = "cancelled"
)

// ConversationEvent is one turn's output. Immutable once appended to a history.
type ConversationEvent struct {
	TurnIndex      int       `json:"turn_index"`
	SpeakerID      string    `json:"speaker_persona_id"`
	Text           string    `json:"text"`
	Triggered      []string  `json:"triggered"`
	IntensityAfter int       `json:"intensity_after"`
	Degraded       bool      `json:"degraded,omitempty"` // text is a fallback line
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationState is the mutable state of exactly one session.
// Only the cancellation flag may be touched concurrently; everything else
// is mutated by the single goroutine driving the session's turns.
type ConversationState struct {
	Topic         Topic
	TurnIndex     int
	History       []ConversationEvent
	Intensity     map[string]int
	FiredTriggers map[string]int
	Status        ConversationStatus
	EndReason     EndReason
	// PendingEnd names the END_CONVERSATION trigger awaiting the next turn boundary.
	PendingEnd string

	cancelRequested atomic.Bool
}

// NewConversationState returns a state waiting for its first turn with every
// persona at intensity zero.
func NewConversationState(topic Topic, personaIDs []string) *ConversationState {
	intensity := make(map[string]int, len(personaIDs))
	for _, id := range personaIDs {
		intensity[id] = 0
	}
	return &ConversationState{
		Topic:         topic,
		Intensity:     intensity,
		FiredTriggers: make(map[string]int),
		Status:        StatusWaiting,
	}
}

func (s *ConversationState) IsEnded() bool {
	return s.Status == StatusEnded
}

// End moves the state to ENDED with reason. It reports false when already ended,
// in which case the original reason is kept.
func (s *ConversationState) End(reason EndReason) bool {
	if s.Status == StatusEnded {
		return false
	}
	s.Status = StatusEnded
	s.EndReason = reason
	s.PendingEnd = ""
	return true
}

// Append records event and advances the turn counter in one step so
// len(History) == TurnIndex holds between turns.
func (s *ConversationState) Append(event ConversationEvent) {
	s.History = append(s.History, event)
	s.TurnIndex++
}

// RequestCancel flags the session for cancellation at the next turn boundary.
func (s *ConversationState) RequestCancel() {
	s.cancelRequested.Store(true)
}

func (s *ConversationState) CancelRequested() bool {
	return s.cancelRequested.Load()
}

// HistorySnapshot returns a copy of the history safe to hand to other goroutines.
func (s *ConversationState) HistorySnapshot() []ConversationEvent {
	out := make([]ConversationEvent, len(s.History))
	for i, e := range s.History {
		e.Triggered = append([]string(nil), e.Triggered...)
		out[i] = e
	}
	return out
}

// Window returns the trailing n events of the history, or all of it when n <= 0.
func (s *ConversationState) Window(n int) []ConversationEvent {
	if n <= 0 || n >= len(s.History) {
		return s.History
	}
	return s.History[len(s.History)-n:]
}
