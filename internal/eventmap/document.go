package eventmap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadDocument reads a YAML or JSON document into a generic tree of
// map[string]any, []any and scalars.
func LoadDocument(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", path, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse document %s: %w", path, err)
	}
	return doc, nil
}

// ParseDocument decodes raw document bytes. Mapping keys are normalized to
// strings so numeric tier keys (`100:`) and quoted keys (`"100":`) agree.
func ParseDocument(data []byte) (any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return normalize(raw), nil
}

func normalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[fmt.Sprint(key)] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}
