package tracing

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

var sensitiveAttributeKeys = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"provider_key",
	"authorization",
}

// AccountID tags a span with the acting credit account.
func AccountID(id string) attribute.KeyValue {
	return attribute.String("mailforge.account_id", id)
}

// RunID tags a span with the generation run identifier.
func RunID(id string) attribute.KeyValue {
	return attribute.String("mailforge.run_id", id)
}

// TaskKind tags a span with the pipeline task kind.
func TaskKind(kind string) attribute.KeyValue {
	return attribute.String("mailforge.task_kind", kind)
}

// SafeAttributes drops attributes with sensitive keys.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if isSensitiveKey(string(attr.Key)) {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

// SafeError replaces an error with a type-only error to avoid leaking details.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%T", err)
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, needle := range sensitiveAttributeKeys {
		if strings.Contains(key, needle) {
			return true
		}
	}
	return false
}
