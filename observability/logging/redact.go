package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces secret material in log output.
const RedactedValue = "[REDACTED]"

// Keys MaskField lets through untouched. Account addresses are public.
var redactionAllowlist = map[string]struct{}{
	"service": {}, "env": {}, "message": {}, "severity": {}, "timestamp": {},
	"error": {}, "reason": {}, "component": {},
	"op": {}, "caller": {}, "kind": {}, "address": {}, "module": {}, "paused": {}, "type": {},
}

// Keys the handler always masks, whoever logs them.
var sensitiveKeys = map[string]struct{}{
	"token":         {},
	"authorization": {},
	"hmac_secret":   {},
	"passphrase":    {},
	"private_key":   {},
}

func normalizeKey(key string) string { return strings.ToLower(strings.TrimSpace(key)) }

// IsAllowlisted reports whether key is exempt from MaskField.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[normalizeKey(key)]
	return ok
}

// IsSensitive reports whether the handler masks key unconditionally.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[normalizeKey(key)]
	return ok
}

// RedactionAllowlist lists the allowlisted keys in sorted order.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue hides non-empty values. Empty values pass through so missing
// settings remain visible.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField redacts value unless key is allowlisted. The key keeps its casing.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

// redactAttr is the handler-level guard applied to every attribute.
func redactAttr(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) || attr.Value.Kind() == slog.KindGroup {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
