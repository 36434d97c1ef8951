package audit

import (
	"fmt"
	"strings"
)

const (
	// redactedSentinel replaces values under sensitive keys.
	redactedSentinel = "[REDACTED]"
	// maxStringLen is the cap beyond which string values are truncated.
	maxStringLen = 500
	// truncationMarker is appended to truncated strings.
	truncationMarker = "... [TRUNCATED]"
)

// sensitiveKeyFragments flag a key as sensitive when its lowercase form
// contains any of them.
var sensitiveKeyFragments = []string{
	"password", "api_key", "secret", "token", "credential",
}

// SanitizeParams returns a copy of params safe for audit logging: values
// under sensitive keys are replaced with a sentinel and long strings are
// truncated. The input map is never modified. Fail-closed: if sanitization
// panics on an exotic value, the whole map is replaced by a redaction
// notice rather than logged raw.
func SanitizeParams(params map[string]any) (out map[string]any) {
	if params == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			out = map[string]any{"_sanitizer": fmt.Sprintf("[REDACTED: sanitization failure: %v]", r)}
		}
	}()
	return sanitizeMap(params, 0)
}

// maxSanitizeDepth stops runaway recursion on self-referential structures.
const maxSanitizeDepth = 10

func sanitizeMap(m map[string]any, depth int) map[string]any {
	if depth > maxSanitizeDepth {
		return map[string]any{"_sanitizer": redactedSentinel}
	}
	out := make(map[string]any, len(m))
	for key, value := range m {
		if isSensitiveKey(key) {
			out[key] = redactedSentinel
			continue
		}
		out[key] = sanitizeValue(value, depth)
	}
	return out
}

func sanitizeValue(value any, depth int) any {
	switch v := value.(type) {
	case string:
		return truncate(v)
	case map[string]any:
		return sanitizeMap(v, depth+1)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeValue(item, depth+1)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func truncate(s string) string {
	if len(s) <= maxStringLen {
		return s
	}
	return s[:maxStringLen] + truncationMarker
}
