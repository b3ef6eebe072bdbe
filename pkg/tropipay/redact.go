package tropipay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const redactedValue = "******"

// sensitiveFragments are matched against lower-cased field and header names
// with '-' and '_' removed.
var sensitiveFragments = []string{
	"token",
	"secret",
	"password",
	"authorization",
	"securitycode",
}

// IsSensitiveKey reports whether a field or header name must be masked in logs.
func IsSensitiveKey(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.NewReplacer("-", "", "_", "").Replace(normalized)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// SanitizePayload returns a JSON-shaped copy of payload with sensitive fields masked.
func SanitizePayload(payload any) any {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "<unavailable>"
	}
	return sanitizeJSON(raw)
}

// SanitizeBody masks sensitive fields of a raw JSON body. Non-JSON bodies are
// summarized by size only.
func SanitizeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	return sanitizeJSON(body)
}

// SanitizeHeaders flattens headers and masks sensitive ones.
func SanitizeHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if IsSensitiveKey(key) {
			out[key] = redactedValue
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}

func sanitizeJSON(raw []byte) any {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Sprintf("<non-json body: %d bytes>", len(raw))
	}
	return sanitizeValue(data)
}

func sanitizeValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, inner := range typed {
			if IsSensitiveKey(key) {
				out[key] = redactedValue
				continue
			}
			out[key] = sanitizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, 0, len(typed))
		for _, item := range typed {
			out = append(out, sanitizeValue(item))
		}
		return out
	default:
		return value
	}
}
