// Package scheduler decides who speaks next and when a conversation is over.
package scheduler

import (
	"fmt"

	"debatekit/core"
	"debatekit/registry"
)

// Config holds the conversation thresholds. Both are required.
type Config struct {
	MaxTurns     int `json:"max_turns"`
	MaxIntensity int `json:"max_intensity"`
}

func (c Config) Validate() error {
	if c.MaxTurns <= 0 {
		return &core.ConfigError{Source: "scheduler", Reason: fmt.Sprintf("max_turns must be > 0, got %d", c.MaxTurns)}
	}
	if c.MaxIntensity <= 0 {
		return &core.ConfigError{Source: "scheduler", Reason: fmt.Sprintf("max_intensity must be > 0, got %d", c.MaxIntensity)}
	}
	return nil
}

// TurnScheduler rotates through the registry in configuration order.
// It holds no per-session state and may be shared between sessions.
type TurnScheduler struct {
	personas []core.Persona
	config   Config
	logger   *core.Logger
}

func NewTurnScheduler(personas *registry.PersonaRegistry, config Config, logger *core.Logger) (*TurnScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if personas == nil || personas.Len() == 0 {
		return nil, &core.ConfigError{Source: "scheduler", Reason: "no personas"}
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &TurnScheduler{
		personas: personas.All(),
		config:   config,
		logger:   logger.With(map[string]interface{}{"component": "scheduler"}),
	}, nil
}

func (s *TurnScheduler) Config() Config {
	return s.config
}

// EndCondition evaluates the end rules in priority order without changing state:
// a pending end trigger, then the turn limit, then mutual meltdown.
func (s *TurnScheduler) EndCondition(state *core.ConversationState) core.EndReason {
	if state.PendingEnd != "" {
		return core.EndReasonTrigger
	}
	if state.TurnIndex >= s.config.MaxTurns {
		return core.EndReasonMaxTurns
	}
	for _, p := range s.personas {
		if state.Intensity[p.ID] < s.config.MaxIntensity {
			return core.EndReasonNone
		}
	}
	return core.EndReasonMutualMeltdown
}

// NextSpeaker returns the persona for state.TurnIndex, or false once the
// conversation has ended. Reaching an end condition ends the state here.
func (s *TurnScheduler) NextSpeaker(state *core.ConversationState) (core.Persona, bool) {
	if state.IsEnded() {
		return core.Persona{}, false
	}
	if reason := s.EndCondition(state); reason != core.EndReasonNone {
		pending := state.PendingEnd
		if state.End(reason) {
			s.logger.Info("conversation ended", "reason", string(reason), "turns", state.TurnIndex, "trigger", pending)
		}
		return core.Persona{}, false
	}
	if state.Status == core.StatusWaiting {
		state.Status = core.StatusRunning
	}
	return s.personas[state.TurnIndex%len(s.personas)], true
}

// Cancel ends state with reason cancelled. Reports false if it had already ended.
func (s *TurnScheduler) Cancel(state *core.ConversationState) bool {
	if !state.End(core.EndReasonCancelled) {
		return false
	}
	s.logger.Info("conversation cancelled", "turns", state.TurnIndex)
	return true
}

// Participants returns the speaking order.
func (s *TurnScheduler) Participants() []core.Persona {
	out := make([]core.Persona, len(s.personas))
	copy(out, s.personas)
	return out
}
