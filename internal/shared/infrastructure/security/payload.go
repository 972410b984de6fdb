// Package security guards the operator surfaces that read local files.
package security

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxPayloadBytes matches the body limit of the webhook endpoint.
const MaxPayloadBytes int64 = 1 << 20

var (
	// ErrEmptyPath is returned when no path was given.
	ErrEmptyPath = errors.New("payload path cannot be empty")
	// ErrForbiddenPath is returned for paths carrying shell metacharacters.
	ErrForbiddenPath = errors.New("payload path contains forbidden characters")
	// ErrPayloadTooLarge is returned when the file exceeds MaxPayloadBytes.
	ErrPayloadTooLarge = errors.New("payload exceeds size limit")
	// ErrNotRegularFile is returned for directories and device files.
	ErrNotRegularFile = errors.New("payload is not a regular file")
)

const forbiddenChars = ";&|$`(){}<>!\n\r"

// CleanPath validates path and returns it absolute with symlinks resolved.
// A path that does not exist yet is returned cleaned.
func CleanPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrEmptyPath
	}
	if i := strings.IndexAny(path, forbiddenChars); i >= 0 {
		return "", fmt.Errorf("%w: %q", ErrForbiddenPath, path[i])
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return abs, nil
		}
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return resolved, nil
}

// CleanPathIn is CleanPath restricted to files under baseDir.
func CleanPathIn(path, baseDir string) (string, error) {
	if strings.TrimSpace(baseDir) == "" {
		return "", fmt.Errorf("base directory: %w", ErrEmptyPath)
	}
	clean, err := CleanPath(path)
	if err != nil {
		return "", err
	}
	base, err := CleanPath(baseDir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, clean)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("payload path escapes %s: %s", baseDir, path)
	}
	return clean, nil
}

// ReadPayload reads a captured event file for replay. Files larger than
// MaxPayloadBytes are rejected rather than truncated.
func ReadPayload(path string) ([]byte, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	return readLimited(clean)
}

// ReadPayloadIn is ReadPayload restricted to files under baseDir.
func ReadPayloadIn(path, baseDir string) ([]byte, error) {
	clean, err := CleanPathIn(path, baseDir)
	if err != nil {
		return nil, err
	}
	return readLimited(clean)
}

func readLimited(path string) ([]byte, error) {
	// #nosec G304 - path is validated by the callers
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}
	if info.Size() > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, info.Size())
	}

	data, err := io.ReadAll(io.LimitReader(f, MaxPayloadBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %s", ErrPayloadTooLarge, path)
	}
	return data, nil
}
