// Package engine drives one turn of a conversation at a time: pick the speaker,
// generate the line, match triggers and apply their escalation effects.
package engine

import (
	"context"
	"strings"
	"time"

	"debatekit/core"
	"debatekit/registry"
	"debatekit/scheduler"
	"debatekit/triggers"
)

const (
	DefaultGenerationTimeout = 30 * time.Second
	DefaultFallbackLine      = "..."
)

// Generator produces the next line for a prompt. Implementations must honour ctx.
type Generator interface {
	Generate(ctx context.Context, prompt core.LLMContext) (string, error)
}

type Config struct {
	// HistoryWindow is the number of trailing turns included in the prompt; 0 sends the full history.
	HistoryWindow     int
	GenerationTimeout time.Duration
	DefaultFallback   string
}

// DialogueEngine is shared by all sessions. Every call works on the state it is given.
type DialogueEngine struct {
	personas  *registry.PersonaRegistry
	triggers  *triggers.Index
	scheduler *scheduler.TurnScheduler
	generator Generator
	config    Config
	logger    *core.Logger
	now       func() time.Time
}

func NewDialogueEngine(
	personas *registry.PersonaRegistry,
	index *triggers.Index,
	sched *scheduler.TurnScheduler,
	generator Generator,
	config Config,
	logger *core.Logger,
) *DialogueEngine {
	if config.GenerationTimeout <= 0 {
		config.GenerationTimeout = DefaultGenerationTimeout
	}
	if config.DefaultFallback == "" {
		config.DefaultFallback = DefaultFallbackLine
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &DialogueEngine{
		personas:  personas,
		triggers:  index,
		scheduler: sched,
		generator: generator,
		config:    config,
		logger:    logger.With(map[string]interface{}{"component": "engine"}),
		now:       time.Now,
	}
}

func (e *DialogueEngine) Scheduler() *scheduler.TurnScheduler {
	return e.scheduler
}

// Advance plays one turn. It returns false, with no event, when the
// conversation is over, either because it already was or because an end
// condition or a cancellation request was found at this turn boundary.
func (e *DialogueEngine) Advance(ctx context.Context, state *core.ConversationState) (core.ConversationEvent, bool) {
	logger := e.loggerFor(ctx)

	if state.CancelRequested() {
		e.scheduler.Cancel(state)
		return core.ConversationEvent{}, false
	}
	speaker, ok := e.scheduler.NextSpeaker(state)
	if !ok {
		return core.ConversationEvent{}, false
	}

	turn := state.TurnIndex
	maxIntensity := e.scheduler.Config().MaxIntensity
	prompt := BuildPrompt(state, speaker, e.personas.All(), e.config.HistoryWindow, maxIntensity)

	text, err := e.generate(ctx, prompt, speaker)
	degraded := false
	if err != nil {
		genErr := &core.GenerationError{PersonaID: speaker.ID, Turn: turn, Err: err}
		logger.Warn("generation failed, using fallback line", "persona", speaker.ID, "turn", turn, "error", genErr)
		text = e.fallback(speaker)
		degraded = true
	}

	fired := e.triggers.Match(text, speaker.ID, turn, state.FiredTriggers)
	ids := e.apply(state, speaker, fired, turn, maxIntensity)
	if len(ids) > 0 {
		logger.Info("triggers fired", "persona", speaker.ID, "turn", turn, "triggers", ids)
	}

	event := core.ConversationEvent{
		TurnIndex:      turn,
		SpeakerID:      speaker.ID,
		Text:           text,
		Triggered:      ids,
		IntensityAfter: state.Intensity[speaker.ID],
		Degraded:       degraded,
		CreatedAt:      e.now(),
	}
	state.Append(event)
	logger.Debug("turn recorded", "persona", speaker.ID, "turn", turn, "intensity", event.IntensityAfter)
	return event, true
}

type generation struct {
	text string
	err  error
}

// generate bounds the call by GenerationTimeout even when the generator ignores ctx.
func (e *DialogueEngine) generate(ctx context.Context, prompt core.LLMContext, speaker core.Persona) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.GenerationTimeout)
	defer cancel()

	done := make(chan generation, 1)
	go func() {
		text, err := e.generator.Generate(ctx, prompt)
		done <- generation{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		text := cleanGeneration(res.text, speaker)
		if strings.TrimSpace(text) == "" {
			return "", core.ErrEmptyGeneration
		}
		return text, nil
	}
}

func (e *DialogueEngine) fallback(speaker core.Persona) string {
	if strings.TrimSpace(speaker.FallbackLine) != "" {
		return speaker.FallbackLine
	}
	return e.config.DefaultFallback
}

// apply runs each trigger's effect in order and records it as fired at turn.
func (e *DialogueEngine) apply(state *core.ConversationState, speaker core.Persona, fired []core.Trigger, turn, maxIntensity int) []string {
	ids := make([]string, 0, len(fired))
	for _, t := range fired {
		targets := []string{speaker.ID}
		if t.Scope == core.TriggerScopeGlobal {
			targets = e.personas.IDs()
		}
		switch t.Effect {
		case core.EffectRaiseIntensity:
			for _, id := range targets {
				if state.Intensity[id] < maxIntensity {
					state.Intensity[id]++
				}
			}
		case core.EffectForceMeltdown:
			for _, id := range targets {
				state.Intensity[id] = maxIntensity
			}
		case core.EffectEndConversation:
			if state.PendingEnd == "" {
				state.PendingEnd = t.ID
			}
		}
		state.FiredTriggers[t.ID] = turn
		ids = append(ids, t.ID)
	}
	return ids
}

func (e *DialogueEngine) loggerFor(ctx context.Context) *core.Logger {
	if l := core.SessionLoggerFromContext(ctx); l != nil {
		return l.With(map[string]interface{}{"component": "engine"})
	}
	return e.logger
}
