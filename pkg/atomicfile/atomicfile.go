// Copyright 2024-2026 Aiku AI

// Package atomicfile replaces files via a temporary sibling and a rename so
// readers never observe a partially written file.
package atomicfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFile writes data to path atomically with the given permissions.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return WriteWith(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteWith streams the output of fn into a temporary file in the same
// directory as path, syncs it, and renames it over path. The temporary file
// is removed if fn or any later step fails.
func WriteWith(path string, perm os.FileMode, fn func(w io.Writer) error) error {
	_, err := WriteNamed(path, perm, fn, func() string { return path })
	return err
}

// WriteNamed is WriteWith for files named after their content. path only
// places the temporary file; name is called once fn has succeeded and
// returns the destination, which must be in the same directory.
func WriteNamed(path string, perm os.FileMode, fn func(w io.Writer) error, name func() string) (dest string, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = fn(tmp); err != nil {
		return "", err
	}
	if err = tmp.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return "", fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	dest = name()
	if err = os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("failed to rename %s to %s: %w", tmpName, dest, err)
	}
	return dest, nil
}
