package store

import (
	"fmt"
	"strings"
)

// NormalizeKey canonicalizes a key before it reaches a backend:
// backslashes become slashes, repeated separators collapse, leading and
// trailing separators are trimmed, and path-traversal segments are
// rejected. Every adapter normalizes on entry so a key names the same
// object on every backend.
func NormalizeKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")

	parts := strings.Split(key, "/")
	out := parts[:0]
	for _, p := range parts {
		switch p {
		case "":
			continue
		case ".", "..":
			return "", fmt.Errorf("store: key %q contains a path traversal segment", key)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("store: empty key")
	}
	return strings.Join(out, "/"), nil
}

// NormalizePrefix canonicalizes a listing prefix. Unlike keys, an empty
// prefix is valid and selects everything.
func NormalizePrefix(prefix string) (string, error) {
	if strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/") == "" {
		return "", nil
	}
	return NormalizeKey(prefix)
}

// JoinKey joins key parts with the separator, normalizing the result.
func JoinKey(parts ...string) (string, error) {
	return NormalizeKey(strings.Join(parts, "/"))
}

// KeyWithinPrefix reports whether a normalized key falls under a
// normalized prefix at a path-segment boundary. The empty prefix matches
// every key.
func KeyWithinPrefix(key, prefix string) bool {
	if prefix == "" {
		return true
	}
	return key == prefix || strings.HasPrefix(key, prefix+"/")
}
