package credentials

import "strings"

// RedactedPlaceholder replaces sensitive values in any output surface.
const RedactedPlaceholder = "[REDACTED]"

// sensitiveMarkers match key names by substring, case-insensitive. This
// deliberately over-matches: a redacted benign field is harmless, a leaked
// secret is not.
var sensitiveMarkers = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"apikey",
	"api_key",
	"api-key",
	"credential",
	"auth",
	"private_key",
	"privatekey",
	"connection_string",
	"dsn",
}

// IsSensitiveKey reports whether a field name looks like it holds a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	// "key" matches as a suffix ("ssh_key", "access-key", "apikey") but
	// not as a prefix, to avoid redacting fields like "keyspace".
	return strings.HasSuffix(lower, "key")
}

// RedactValues returns a copy of fields with sensitive values replaced.
func RedactValues(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if IsSensitiveKey(k) {
			out[k] = RedactedPlaceholder
		} else {
			out[k] = v
		}
	}
	return out
}

// RedactAny walks an arbitrary decoded JSON value and redacts sensitive
// map entries at any depth. Non-container values pass through unchanged.
func RedactAny(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if IsSensitiveKey(k) {
				out[k] = RedactedPlaceholder
			} else {
				out[k] = RedactAny(inner)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = RedactAny(inner)
		}
		return out
	default:
		return v
	}
}
