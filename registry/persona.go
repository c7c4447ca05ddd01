// Package registry loads and validates the immutable persona and topic
// catalogs shared by every conversation session.
package registry

import (
	"fmt"
	"strings"

	"debatekit/core"
)

// DefaultPersonaFile is the persona catalog name used when settings do not override it.
const DefaultPersonaFile = "config/platforms.json"

// PersonaDefinition is the on-disk shape of a persona record.
type PersonaDefinition struct {
	ID           string `json:"id,omitempty" yaml:"id"`
	DisplayName  string `json:"display_name" yaml:"display_name"`
	StylePrompt  string `json:"style_prompt" yaml:"style_prompt"`
	VoiceBackend string `json:"voice_backend" yaml:"voice_backend"`
	VoiceID      string `json:"voice_id,omitempty" yaml:"voice_id"`
	Avatar       string `json:"avatar,omitempty" yaml:"avatar"`
	FallbackLine string `json:"fallback_line,omitempty" yaml:"fallback_line"`
}

// PersonaRegistry is safe for concurrent reads; it never changes after LoadPersonas returns.
type PersonaRegistry struct {
	ordered []core.Persona
	byID    map[string]int
}

// LoadPersonas validates every definition and builds the registry.
// Any single bad record fails the whole load.
func LoadPersonas(defs []PersonaDefinition) (*PersonaRegistry, error) {
	if len(defs) == 0 {
		return nil, &core.ConfigError{Source: "personas", Reason: "at least one persona is required"}
	}
	reg := &PersonaRegistry{
		ordered: make([]core.Persona, 0, len(defs)),
		byID:    make(map[string]int, len(defs)),
	}
	for _, def := range defs {
		p, err := def.toPersona()
		if err != nil {
			return nil, err
		}
		if _, dup := reg.byID[p.ID]; dup {
			return nil, &core.ConfigError{Source: "personas", ID: p.ID, Reason: "duplicate id"}
		}
		reg.byID[p.ID] = len(reg.ordered)
		reg.ordered = append(reg.ordered, p)
	}
	return reg, nil
}

// LoadPersonaFile reads a mapping of persona id to definition, keeping file order.
func LoadPersonaFile(path string) (*PersonaRegistry, error) {
	records, err := ReadRecords[PersonaDefinition](path, "personas")
	if err != nil {
		return nil, err
	}
	defs := make([]PersonaDefinition, 0, len(records))
	for _, rec := range records {
		def := rec.Value
		if def.ID != "" && def.ID != rec.ID {
			return nil, &core.ConfigError{Source: path, ID: rec.ID, Reason: fmt.Sprintf("record id %q does not match key", def.ID)}
		}
		def.ID = rec.ID
		defs = append(defs, def)
	}
	return LoadPersonas(defs)
}

func (d PersonaDefinition) toPersona() (core.Persona, error) {
	id := strings.TrimSpace(d.ID)
	missing := func(field string) error {
		return &core.ConfigError{Source: "personas", ID: id, Reason: "missing " + field}
	}
	if id == "" {
		return core.Persona{}, missing("id")
	}
	if strings.TrimSpace(d.DisplayName) == "" {
		return core.Persona{}, missing("display_name")
	}
	if strings.TrimSpace(d.StylePrompt) == "" {
		return core.Persona{}, missing("style_prompt")
	}

	backend := core.VoiceBackend(strings.ToLower(strings.TrimSpace(d.VoiceBackend)))
	voiceID := strings.TrimSpace(d.VoiceID)
	switch backend {
	case "":
		return core.Persona{}, missing("voice_backend")
	case core.VoiceBackendCloned:
		if voiceID == "" {
			return core.Persona{}, &core.ConfigError{Source: "personas", ID: id, Reason: "cloned_voice requires voice_id"}
		}
	case core.VoiceBackendSystem:
		if voiceID != "" {
			return core.Persona{}, &core.ConfigError{Source: "personas", ID: id, Reason: "voice_id is only valid with cloned_voice"}
		}
	default:
		return core.Persona{}, &core.ConfigError{Source: "personas", ID: id, Reason: fmt.Sprintf("unknown voice_backend %q", d.VoiceBackend)}
	}

	return core.Persona{
		ID:           id,
		DisplayName:  strings.TrimSpace(d.DisplayName),
		StylePrompt:  d.StylePrompt,
		VoiceBackend: backend,
		VoiceID:      voiceID,
		Avatar:       d.Avatar,
		FallbackLine: d.FallbackLine,
	}, nil
}

// Get returns the persona with id or a NotFoundError.
func (r *PersonaRegistry) Get(id string) (core.Persona, error) {
	idx, ok := r.byID[id]
	if !ok {
		return core.Persona{}, &core.NotFoundError{Kind: "persona", ID: id}
	}
	return r.ordered[idx], nil
}

// Has reports whether id names a registered persona.
func (r *PersonaRegistry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// All returns the personas in configuration order, which is also the default speaking order.
func (r *PersonaRegistry) All() []core.Persona {
	out := make([]core.Persona, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// IDs returns persona ids in configuration order.
func (r *PersonaRegistry) IDs() []string {
	ids := make([]string, len(r.ordered))
	for i, p := range r.ordered {
		ids[i] = p.ID
	}
	return ids
}

func (r *PersonaRegistry) Len() int {
	return len(r.ordered)
}
