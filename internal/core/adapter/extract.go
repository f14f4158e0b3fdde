package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// decodeJSON parses body as JSON. ok is false for bodies that are not JSON.
func decodeJSON(body []byte) (any, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false
	}
	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, false
	}
	return doc, true
}

// firstField returns the first non-empty scalar found at any of the dotted
// field paths (e.g., "data.download_url").
func firstField(doc any, fields []string) (string, string, bool) {
	for _, field := range fields {
		value, ok := lookup(doc, strings.Split(field, "."))
		if !ok {
			continue
		}
		if text := scalarText(value); text != "" {
			return text, field, true
		}
	}
	return "", "", false
}

func lookup(doc any, path []string) (any, bool) {
	current := doc
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func scalarText(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// prettyJSON renders a decoded document for passthrough replies.
func prettyJSON(doc any) string {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Sprint(doc)
	}
	return string(payload)
}
