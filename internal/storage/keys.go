package storage

import (
	"path"
	"strings"
)

// Key namespaces. Objects under the pending prefix are never publicly
// resolvable; they become permanent only through ingestion finalization.
const (
	PendingPrefix   = "pending"
	PermanentPrefix = "cards"
)

// PendingKey builds a pending-object key scoped to an upload session.
func PendingKey(sessionID string, parts ...string) string {
	return path.Join(append([]string{PendingPrefix, sessionID}, parts...)...)
}

// PermanentKey builds a permanent key under a card's namespace.
func PermanentKey(cardID string, parts ...string) string {
	return path.Join(append([]string{PermanentPrefix, cardID}, parts...)...)
}

// InSession reports whether key lives inside the given session's pending
// namespace. Keys containing traversal segments never qualify.
func InSession(key, sessionID string) bool {
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return false
	}
	prefix := PendingPrefix + "/" + sessionID + "/"
	return strings.HasPrefix(key, prefix) && len(key) > len(prefix)
}
