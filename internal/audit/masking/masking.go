package masking

import "strings"

const maskToken = "****"

var sensitiveKeyParts = []string{"password", "secret", "token", "credential", "authorization"}

// MaskSecret redacts a secret while keeping a short suffix for correlation.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 8 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskSensitive returns a copy of input where values under sensitive keys are
// redacted. Nested objects are walked.
func MaskSensitive(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if isSensitive(trimmedKey) {
			out[trimmedKey] = maskValue(value)
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			out[trimmedKey] = MaskSensitive(nested)
			continue
		}
		out[trimmedKey] = value
	}
	return out
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

func maskValue(value any) any {
	switch cast := value.(type) {
	case string:
		return MaskSecret(cast)
	case nil:
		return nil
	default:
		return maskToken
	}
}
