package registry

import (
	"fmt"
	"strings"

	"debatekit/core"
)

const DefaultTopicFile = "config/topics.json"

type TopicDefinition struct {
	ID         string `json:"id,omitempty" yaml:"id"`
	Title      string `json:"title,omitempty" yaml:"title"`
	Category   string `json:"category,omitempty" yaml:"category"`
	PromptText string `json:"prompt_text" yaml:"prompt_text"`
}

// TopicCatalog holds the conversation seeds a session can be started from.
type TopicCatalog struct {
	ordered []core.Topic
	byID    map[string]int
}

func LoadTopics(defs []TopicDefinition) (*TopicCatalog, error) {
	if len(defs) == 0 {
		return nil, &core.ConfigError{Source: "topics", Reason: "at least one topic is required"}
	}
	cat := &TopicCatalog{
		ordered: make([]core.Topic, 0, len(defs)),
		byID:    make(map[string]int, len(defs)),
	}
	for _, def := range defs {
		id := strings.TrimSpace(def.ID)
		if id == "" {
			return nil, &core.ConfigError{Source: "topics", Reason: "missing id"}
		}
		if strings.TrimSpace(def.PromptText) == "" {
			return nil, &core.ConfigError{Source: "topics", ID: id, Reason: "missing prompt_text"}
		}
		if _, dup := cat.byID[id]; dup {
			return nil, &core.ConfigError{Source: "topics", ID: id, Reason: "duplicate id"}
		}
		title := def.Title
		if title == "" {
			title = id
		}
		cat.byID[id] = len(cat.ordered)
		cat.ordered = append(cat.ordered, core.Topic{
			ID:         id,
			Title:      title,
			Category:   def.Category,
			PromptText: def.PromptText,
		})
	}
	return cat, nil
}

func LoadTopicFile(path string) (*TopicCatalog, error) {
	records, err := ReadRecords[TopicDefinition](path, "topics")
	if err != nil {
		return nil, err
	}
	defs := make([]TopicDefinition, 0, len(records))
	for _, rec := range records {
		def := rec.Value
		if def.ID != "" && def.ID != rec.ID {
			return nil, &core.ConfigError{Source: path, ID: rec.ID, Reason: fmt.Sprintf("record id %q does not match key", def.ID)}
		}
		def.ID = rec.ID
		defs = append(defs, def)
	}
	return LoadTopics(defs)
}

func (c *TopicCatalog) Get(id string) (core.Topic, error) {
	idx, ok := c.byID[id]
	if !ok {
		return core.Topic{}, &core.NotFoundError{Kind: "topic", ID: id}
	}
	return c.ordered[idx], nil
}

func (c *TopicCatalog) All() []core.Topic {
	out := make([]core.Topic, len(c.ordered))
	copy(out, c.ordered)
	return out
}
