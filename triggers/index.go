// Package triggers matches generated dialogue against "breaking point" rules.
//
// Trigger definitions are immutable. Whether a trigger may fire again is decided
// from a cooldown map owned by the caller's conversation state, so one Index can
// be shared by any number of sessions.
package triggers

import (
	"fmt"
	"regexp"
	"strings"

	"debatekit/core"
	"debatekit/registry"
)

const DefaultTriggerFile = "config/triggers.json"

// PatternPrefix marks a match phrase as a regular expression instead of a substring.
const PatternPrefix = "re:"

// Definition is the on-disk shape of a trigger record.
type Definition struct {
	ID            string   `json:"id,omitempty" yaml:"id"`
	MatchPhrases  []string `json:"match_phrases" yaml:"match_phrases"`
	Scope         string   `json:"scope" yaml:"scope"`
	PersonaID     string   `json:"persona_id,omitempty" yaml:"persona_id"`
	Effect        string   `json:"escalation_effect" yaml:"escalation_effect"`
	CooldownTurns *int     `json:"cooldown_turns" yaml:"cooldown_turns"`
}

type compiled struct {
	trigger  core.Trigger
	literals []string
	patterns []*regexp.Regexp
}

// Index holds compiled triggers in definition order.
type Index struct {
	triggers []compiled
}

// Load validates and compiles definitions. personas resolves per_persona scopes.
func Load(defs []Definition, personas *registry.PersonaRegistry) (*Index, error) {
	idx := &Index{triggers: make([]compiled, 0, len(defs))}
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		c, err := compile(def, personas)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[c.trigger.ID]; dup {
			return nil, &core.ConfigError{Source: "triggers", ID: c.trigger.ID, Reason: "duplicate id"}
		}
		seen[c.trigger.ID] = struct{}{}
		idx.triggers = append(idx.triggers, c)
	}
	return idx, nil
}

// LoadFile reads a mapping of trigger id to definition, keeping file order.
func LoadFile(path string, personas *registry.PersonaRegistry) (*Index, error) {
	records, err := registry.ReadRecords[Definition](path, "triggers")
	if err != nil {
		return nil, err
	}
	defs := make([]Definition, 0, len(records))
	for _, rec := range records {
		def := rec.Value
		if def.ID != "" && def.ID != rec.ID {
			return nil, &core.ConfigError{Source: path, ID: rec.ID, Reason: fmt.Sprintf("record id %q does not match key", def.ID)}
		}
		def.ID = rec.ID
		defs = append(defs, def)
	}
	return Load(defs, personas)
}

func compile(def Definition, personas *registry.PersonaRegistry) (compiled, error) {
	id := strings.TrimSpace(def.ID)
	fail := func(reason string, err error) (compiled, error) {
		return compiled{}, &core.ConfigError{Source: "triggers", ID: id, Reason: reason, Err: err}
	}
	if id == "" {
		return fail("missing id", nil)
	}
	if len(def.MatchPhrases) == 0 {
		return fail("match_phrases must not be empty", nil)
	}
	if def.CooldownTurns == nil {
		return fail("missing cooldown_turns", nil)
	}
	if *def.CooldownTurns < 0 {
		return fail("cooldown_turns must be >= 0", nil)
	}

	t := core.Trigger{
		ID:            id,
		MatchPhrases:  append([]string(nil), def.MatchPhrases...),
		CooldownTurns: *def.CooldownTurns,
	}

	switch core.EscalationEffect(strings.ToLower(def.Effect)) {
	case core.EffectRaiseIntensity:
		t.Effect = core.EffectRaiseIntensity
	case core.EffectForceMeltdown:
		t.Effect = core.EffectForceMeltdown
	case core.EffectEndConversation:
		t.Effect = core.EffectEndConversation
	default:
		return fail(fmt.Sprintf("unknown escalation_effect %q", def.Effect), nil)
	}

	switch core.TriggerScope(strings.ToLower(def.Scope)) {
	case core.TriggerScopeGlobal:
		if def.PersonaID != "" {
			return fail("persona_id is only valid with per_persona scope", nil)
		}
		t.Scope = core.TriggerScopeGlobal
	case core.TriggerScopePerPersona:
		if def.PersonaID == "" {
			return fail("per_persona scope requires persona_id", nil)
		}
		if personas == nil || !personas.Has(def.PersonaID) {
			return fail(fmt.Sprintf("unknown persona %q", def.PersonaID), nil)
		}
		t.Scope = core.TriggerScopePerPersona
		t.PersonaID = def.PersonaID
	default:
		return fail(fmt.Sprintf("unknown scope %q", def.Scope), nil)
	}

	c := compiled{trigger: t}
	for _, phrase := range def.MatchPhrases {
		if strings.HasPrefix(phrase, PatternPrefix) {
			expr := strings.TrimPrefix(phrase, PatternPrefix)
			if strings.TrimSpace(expr) == "" {
				return fail("empty pattern", nil)
			}
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return fail(fmt.Sprintf("malformed pattern %q", expr), err)
			}
			c.patterns = append(c.patterns, re)
			continue
		}
		literal := strings.ToLower(strings.TrimSpace(phrase))
		if literal == "" {
			return fail("empty match phrase", nil)
		}
		c.literals = append(c.literals, literal)
	}
	return c, nil
}

// Match returns every trigger that matches text and is allowed to fire at turn,
// in definition order. fired maps trigger id to the turn it last fired; a
// trigger is eligible when it is absent or turn-fired[id] >= its cooldown.
// per_persona triggers only apply while their persona is speaking.
func (idx *Index) Match(text, speakerID string, turn int, fired map[string]int) []core.Trigger {
	if idx == nil || text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var out []core.Trigger
	for _, c := range idx.triggers {
		t := c.trigger
		if t.Scope == core.TriggerScopePerPersona && t.PersonaID != speakerID {
			continue
		}
		if last, ok := fired[t.ID]; ok && turn-last < t.CooldownTurns {
			continue
		}
		if c.matches(text, lower) {
			out = append(out, t)
		}
	}
	return out
}

func (c compiled) matches(text, lower string) bool {
	for _, lit := range c.literals {
		if strings.Contains(lower, lit) {
			return true
		}
	}
	for _, re := range c.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Triggers returns the definitions in order.
func (idx *Index) Triggers() []core.Trigger {
	out := make([]core.Trigger, len(idx.triggers))
	for i, c := range idx.triggers {
		out[i] = c.trigger
	}
	return out
}

func (idx *Index) Len() int {
	return len(idx.triggers)
}
