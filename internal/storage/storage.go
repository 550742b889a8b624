// Package storage is the blob store the service reads source documents and signature
// images from and writes stamped output to.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

var (
	ErrNotFound            = errors.New("storage: object not found")
	ErrInvalidPath         = errors.New("storage: invalid path")
	ErrPermissionDenied    = errors.New("storage: permission denied")
	ErrTooLarge            = errors.New("storage: object exceeds size limit")
	ErrPresignNotSupported = errors.New("storage: signed URLs not supported by this backend")
	ErrInvalidConfig       = errors.New("storage: invalid configuration")
	ErrSignatureInvalid    = errors.New("storage: signed URL is invalid or expired")
)

// Store is the blob contract. Paths are slash-separated and relative to the store root.
type Store interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte, contentType string) error
	// SignedURL returns a temporary download URL valid for ttl
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	Backend() string
}

// NormalizePath trims slashes, cleans dot segments and converts backslashes
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

// ValidatePath rejects empty paths, parent traversal and NUL bytes
func ValidatePath(p string) error {
	if p == "" || p == "." {
		return ErrInvalidPath
	}
	if p == ".." || strings.HasPrefix(p, "../") || strings.Contains(p, "/../") {
		return ErrInvalidPath
	}
	if strings.ContainsRune(p, 0) {
		return ErrInvalidPath
	}
	return nil
}

// clean normalizes and validates in one step
func clean(p string) (string, error) {
	p = NormalizePath(p)
	if err := ValidatePath(p); err != nil {
		return "", err
	}
	return p, nil
}

// OutputPath is where a stamped copy of source is written: report.pdf -> report.signed.pdf
func OutputPath(source, ext string) string {
	source = NormalizePath(source)
	base := strings.TrimSuffix(source, path.Ext(source))
	return base + ".signed." + strings.TrimPrefix(ext, ".")
}
