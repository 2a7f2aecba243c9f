package textutil

import "strings"

// NormalizeMetadata trims keys, removing entries with empty keys. String
// values are trimmed as well; other value types pass through unchanged.
func NormalizeMetadata(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]any, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if s, ok := value.(string); ok {
			result[trimmedKey] = strings.TrimSpace(s)
			continue
		}
		result[trimmedKey] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
