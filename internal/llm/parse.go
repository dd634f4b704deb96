package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseLooseObject extracts a JSON object from model output that may be
// wrapped in prose or markdown fences. It tries, in order: a full-document
// parse, a fenced code block, the first balanced {...} group. Failures at
// every stage yield an empty map, never an error. A top-level array yields
// its first object element.
func ParseLooseObject(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}

	if obj, ok := tryParse(raw); ok {
		return obj
	}
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		if obj, ok := tryParse(m[1]); ok {
			return obj
		}
	}
	if candidate := firstBalancedObject(raw); candidate != "" {
		if obj, ok := tryParse(candidate); ok {
			return obj
		}
	}
	return map[string]any{}
}

func tryParse(s string) (map[string]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case []any:
		for _, elem := range t {
			if obj, ok := elem.(map[string]any); ok {
				return obj, true
			}
		}
	}
	return nil, false
}

// firstBalancedObject scans for the first brace-balanced substring,
// honoring JSON string literals and escapes.
func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// StringField returns obj[key] as a string, or def when absent or mistyped.
func StringField(obj map[string]any, key, def string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return def
}

// BoolField returns obj[key] as a bool. String forms like "true" are
// coerced; anything else falls back to def.
func BoolField(obj map[string]any, key string, def bool) bool {
	switch v := obj[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes":
			return true
		case "false", "no":
			return false
		}
	}
	return def
}

// IntField returns obj[key] as an int, accepting JSON numbers and numeric
// strings, or def otherwise.
func IntField(obj map[string]any, key string, def int) int {
	switch v := obj[key].(type) {
	case float64:
		return int(v)
	case string:
		var n float64
		if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &n); err == nil {
			return int(n)
		}
	}
	return def
}

// StringSliceField returns obj[key] as a []string, dropping non-string
// elements. A bare string becomes a one-element slice.
func StringSliceField(obj map[string]any, key string) []string {
	switch v := obj[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			if s, ok := elem.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// ClampInt bounds n to [lo, hi].
func ClampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
