// Package masking redacts secrets and file references before they are
// written to the audit log.
package masking

import "strings"

const maskToken = "****"

// MaskSecret hides value except for its last four characters. A leading
// namespace such as "proof_" or a storage category such as "bank/" is kept so
// the entry stays readable.
func MaskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	cut := strings.LastIndexAny(value, "/_")
	if cut == len(value)-1 {
		cut = -1
	}
	prefix, rest := value[:cut+1], value[cut+1:]
	if len(rest) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + rest[len(rest)-4:]
}

// MaskFields copies input, masking every value stored under one of keys
// (case-insensitive) at any depth.
func MaskFields(input map[string]any, keys ...string) map[string]any {
	if len(input) == 0 {
		return nil
	}
	sensitive := make(map[string]bool, len(keys))
	for _, k := range keys {
		sensitive[strings.ToLower(strings.TrimSpace(k))] = true
	}
	return maskMap(input, sensitive)
}

func maskMap(in map[string]any, sensitive map[string]bool) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			if sensitive[strings.ToLower(key)] {
				out[key] = maskAll(v)
			} else {
				out[key] = maskMap(v, sensitive)
			}
		default:
			if sensitive[strings.ToLower(key)] {
				out[key] = maskAll(v)
			} else {
				out[key] = v
			}
		}
	}
	return out
}

// maskAll masks every string reachable from value.
func maskAll(value any) any {
	switch v := value.(type) {
	case string:
		return MaskSecret(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = maskAll(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = maskAll(item)
		}
		return out
	}
	return value
}
