package storage

import (
	"os"
	"path/filepath"
	"strings"
)

// relativeKey strips the catalog prefix from an object name.
func relativeKey(name, prefix string) string {
	key := strings.TrimPrefix(name, prefix)
	return strings.TrimPrefix(key, "/")
}

// fullKey returns the object name including prefix.
func fullKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func ensureDir(dest string) error {
	return os.MkdirAll(filepath.Dir(dest), 0o750)
}
