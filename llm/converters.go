package llm

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"
)

// StripJSONFences extracts the JSON object out of a model reply that may be
// wrapped in markdown code fences or surrounded by prose.
func StripJSONFences(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	if json.Valid([]byte(s)) {
		return s
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndex(s, "}")
	} else {
		end = strings.LastIndex(s, "]")
	}
	if end > start {
		return strings.TrimSpace(s[start : end+1])
	}
	return s
}

// schemaToGenai converts a canonical JSON-schema map to the genai schema type
// by round-tripping through JSON.
func schemaToGenai(input map[string]any) *genai.Schema {
	data, _ := json.Marshal(input)
	var schema genai.Schema
	_ = json.Unmarshal(data, &schema)
	if schema.Type == "" {
		schema.Type = "object"
	}
	return &schema
}

func toolsToGenai(defs []ToolDef) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schemaToGenai(def.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
