package archive

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// CleanKey validates key and returns it in canonical slash form.
func CleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q escapes the root", ErrInvalidKey, key)
		}
	}
	return path.Clean(key), nil
}

// NewSnapshotKey returns a fresh key under SnapshotPrefix.
func NewSnapshotKey() string {
	return SnapshotPrefix + uuid.NewString() + ".json"
}
