package merge

import (
	"fmt"
	"regexp"
	"strings"
)

// Dimensions lists the build dimensions a layer may scope conditional
// overrides to, in evaluation order. A layer document carries override
// rules in "<dimension>_specific" sections.
var Dimensions = []string{"platform", "location", "dist", "version", "arch", "firmware"}

// DimensionFunc reports the current build's value for a dimension.
// An empty return skips that dimension's rules.
type DimensionFunc func(dimension string) string

// Trees combines two configuration trees. Keys present in both merge
// recursively when both values are mappings; otherwise the overlay
// value replaces the base value entirely, sequences included. Neither
// input is mutated.
func Trees(base, overlay map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		result[k] = CloneValue(v)
	}
	for k, v := range overlay {
		if bm, ok := result[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				result[k] = Trees(bm, om)
				continue
			}
		}
		result[k] = CloneValue(v)
	}
	return result
}

// CloneValue returns a deep copy of a configuration value. Scalars are
// returned as-is; mappings and sequences are copied recursively so
// merge output never aliases a loaded layer.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = CloneValue(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = CloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// controlKeys are layer keys that direct the merge itself and never
// appear in merged output.
var controlKeys = map[string]bool{
	"include": true,
}

func isControlKey(key string) bool {
	if controlKeys[key] {
		return true
	}
	return strings.HasSuffix(key, "_specific") && hasDimensionPrefix(key)
}

func hasDimensionPrefix(key string) bool {
	for _, dim := range Dimensions {
		if key == dim+"_specific" {
			return true
		}
	}
	return false
}

// ApplyLayer merges one layer document into the accumulating tree:
// first the document's own content (control keys stripped), then every
// matching dimension-specific override rule, in declaration order.
// Override payloads may carry nested rules, evaluated after the payload
// merges.
//
// Returns the new tree; neither input is mutated. A rule pattern that
// does not compile is an error naming the dimension and pattern.
func ApplyLayer(tree, doc map[string]any, dims DimensionFunc) (map[string]any, error) {
	content := make(map[string]any, len(doc))
	for k, v := range doc {
		if isControlKey(k) {
			continue
		}
		content[k] = v
	}
	result := Trees(tree, content)

	for _, dim := range Dimensions {
		value := dims(dim)
		if value == "" {
			continue
		}
		rules, ok := doc[dim+"_specific"].([]any)
		if !ok {
			continue
		}
		for _, raw := range rules {
			rule, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s_specific entry is not a mapping", dim)
			}
			pattern, _ := rule[dim].(string)
			matched, err := matchFull(pattern, value)
			if err != nil {
				return nil, fmt.Errorf("dimension %s: %w", dim, err)
			}
			if !matched {
				continue
			}
			payload := make(map[string]any, len(rule))
			for k, v := range rule {
				if k == dim {
					continue
				}
				payload[k] = v
			}
			result, err = ApplyLayer(result, payload, dims)
			if err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// matchFull reports whether pattern fully matches value,
// case-insensitively. Partial matches are rejected: "7\..*" matches
// "7.9" but not "x7.9".
func matchFull(pattern, value string) (bool, error) {
	re, err := regexp.Compile(`(?i)\A(?:` + pattern + `)\z`)
	if err != nil {
		return false, fmt.Errorf("compiling override pattern %q: %w", pattern, err)
	}
	return re.MatchString(value), nil
}
