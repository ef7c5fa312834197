package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// applyMerge shallow-merges fields into doc. Keys containing '/' address a
// leaf inside nested objects, creating intermediate objects as needed. A nil
// value deletes the addressed field. Both adapters share this so a record
// looks the same regardless of which backend holds it.
func applyMerge(doc map[string]any, fields map[string]any) error {
	for key, val := range fields {
		parts := strings.Split(key, "/")
		node := doc
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				if existing, present := node[p]; present && existing != nil {
					return fmt.Errorf("merge path %q crosses non-object field %q", key, p)
				}
				child = make(map[string]any)
				node[p] = child
			}
			node = child
		}
		leaf := parts[len(parts)-1]
		if val == nil {
			delete(node, leaf)
			continue
		}
		normalized, err := normalize(val)
		if err != nil {
			return fmt.Errorf("merge field %q: %w", key, err)
		}
		node[leaf] = normalized
	}
	return nil
}

// normalize round-trips a value through JSON so documents hold only plain
// JSON types, matching what a remote store would give back.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toDoc(v any) (map[string]any, error) {
	n, err := normalize(v)
	if err != nil {
		return nil, err
	}
	doc, ok := n.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record value must be a JSON object, got %T", n)
	}
	return doc, nil
}

// fieldSet reports whether the record has a non-empty value for field.
// Used by the winner-absent guard; empty strings count as unset because the
// record layout never stores "" for a meaningful winner or endTime.
func fieldSet(doc map[string]any, field string) bool {
	v, ok := doc[field]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}
