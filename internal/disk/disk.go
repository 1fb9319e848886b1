package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrUnavailable wraps Ensure failures. A process whose disk fails Ensure
// must not start serving.
var ErrUnavailable = errors.New("storage unavailable")

// ErrInvalidKey is returned for keys that could escape the blob namespace.
var ErrInvalidKey = errors.New("invalid storage key")

// Disk is where template blobs live. Implementations are safe for
// concurrent use and hold no mutable state after construction.
type Disk interface {
	// Ensure prepares the backend. It is idempotent and called once at startup.
	Ensure(ctx context.Context) error
	// Save stores the full contents of r under key, replacing any existing blob.
	Save(ctx context.Context, key string, r io.Reader) error
	// Delete removes the blob at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// URL returns a locator for key without performing any I/O.
	URL(key string) string
}

// ValidKey rejects empty, absolute and parent-relative keys.
func ValidKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
