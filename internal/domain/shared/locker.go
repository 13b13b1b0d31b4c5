package shared

import (
	"context"
	"strings"
)

// KeyLocker serializes work on a single logical key.
// Callers holding different keys never block each other.
type KeyLocker interface {
	// Lock blocks until the key is held or ctx is done.
	// The returned func releases the key and is safe to call once.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LockKey joins key parts with ':' (e.g. truth:scope:invoice:123)
func LockKey(parts ...string) string {
	return strings.Join(parts, ":")
}
