package relay

import (
	"reflect"
	"strings"
)

// defaultSubjectPrefix is used by subject-based backends when no stream
// name is configured.
const defaultSubjectPrefix = "relay"

// typeName returns the simple (unqualified) Go type name of m, lowercased,
// standing in for the spec's "{MessageType}" (simple type name) token.
func typeName(m any) string {
	t := reflect.TypeOf(m)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return strings.ToLower(t.Name())
}

// fullTypeName returns the package-qualified Go type name of m, lowercased,
// standing in for the spec's "{MessageFullName}" token.
func fullTypeName(m any) string {
	t := reflect.TypeOf(m)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	if t.PkgPath() == "" {
		return strings.ToLower(t.Name())
	}
	return strings.ToLower(t.PkgPath() + "." + t.Name())
}

// resolveRoutingKey computes a routing key from pattern when the caller
// did not supply one explicitly, interpolating {MessageType} and
// {MessageFullName}.
func resolveRoutingKey(pattern string, m any) string {
	if pattern == "" {
		return typeName(m)
	}
	key := strings.ReplaceAll(pattern, "{MessageType}", typeName(m))
	key = strings.ReplaceAll(key, "{MessageFullName}", fullTypeName(m))
	return key
}

// resolveSubject derives a subject-based backend's subject as
// "{prefix}.{TypeName}", where prefix is an explicit stream name or
// the string "relay" when absent/blank/whitespace.
func resolveSubject(streamName string, m any) string {
	prefix := strings.TrimSpace(streamName)
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return prefix + "." + typeName(m)
}
