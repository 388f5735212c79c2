package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes turns any supported config file into plain JSON so one
// strict decoder serves every format. Files ending in .yaml/.yml are YAML;
// everything else is JSON that may carry comments and trailing commas.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return jsonc.ToJSON(data), "json", nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		// An empty file is an empty object, which Validate then rejects
		// for the missing endpoint.
		doc = map[string]any{}
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml: convert to json: %w", err)
	}
	return out, "yaml", nil
}

// stringKeys rewrites map[any]any nodes (non-string YAML keys) into
// map[string]any so encoding/json accepts them.
func stringKeys(node any) any {
	switch n := node.(type) {
	case map[any]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[fmt.Sprint(k)] = stringKeys(v)
		}
		return out
	case map[string]any:
		for k, v := range n {
			n[k] = stringKeys(v)
		}
		return n
	case []any:
		for i, v := range n {
			n[i] = stringKeys(v)
		}
		return n
	}
	return node
}
