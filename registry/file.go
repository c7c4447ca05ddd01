package registry

import (
	"fmt"
	"os"

	"debatekit/core"

	"gopkg.in/yaml.v3"
)

// Record is one id-keyed entry of a config file, in file order.
type Record[T any] struct {
	ID    string
	Value T
}

// ReadRecords loads a JSON or YAML file whose root (or whose `root` key) is a
// mapping of unique ids to records. Decoding goes through yaml.Node so the
// mapping order of the file is kept; JSON parses as YAML.
func ReadRecords[T any](path, root string) ([]Record[T], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.ConfigError{Source: path, Reason: "read file", Err: err}
	}
	return DecodeRecords[T](data, path, root)
}

// DecodeRecords is ReadRecords over an in-memory document; source names it in errors.
func DecodeRecords[T any](data []byte, source, root string) ([]Record[T], error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &core.ConfigError{Source: source, Reason: "parse", Err: err}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &core.ConfigError{Source: source, Reason: "empty document"}
	}

	mapping := doc.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, &core.ConfigError{Source: source, Reason: "root must be a mapping"}
	}
	if root != "" {
		if inner := lookup(mapping, root); inner != nil {
			mapping = inner
		}
	}
	if mapping.Kind != yaml.MappingNode {
		return nil, &core.ConfigError{Source: source, Reason: fmt.Sprintf("%q must be a mapping of id to record", root)}
	}

	seen := make(map[string]struct{}, len(mapping.Content)/2)
	records := make([]Record[T], 0, len(mapping.Content)/2)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, value := mapping.Content[i], mapping.Content[i+1]
		id := key.Value
		if id == "" {
			return nil, &core.ConfigError{Source: source, Reason: fmt.Sprintf("empty id at line %d", key.Line)}
		}
		if _, dup := seen[id]; dup {
			return nil, &core.ConfigError{Source: source, ID: id, Reason: fmt.Sprintf("duplicate id at line %d", key.Line)}
		}
		seen[id] = struct{}{}

		var rec T
		if err := value.Decode(&rec); err != nil {
			return nil, &core.ConfigError{Source: source, ID: id, Reason: "decode record", Err: err}
		}
		records = append(records, Record[T]{ID: id, Value: rec})
	}
	return records, nil
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
