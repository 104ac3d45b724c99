// Package hasher computes content hashes used as deduplication keys.
//
// The hash is a streaming SHA-256 over the file's bytes only; path, name, and
// modification time never contribute, so two byte-identical files always hash
// to the same key regardless of where they live.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"media-vault/internal/filesystem"
	"media-vault/internal/metrics"
)

// HashError wraps an I/O failure encountered while hashing a file.
// The import pipeline treats it as a per-item failure, never a batch failure.
type HashError struct {
	Path string
	Err  error
}

func (e *HashError) Error() string {
	return fmt.Sprintf("hash %s: %v", e.Path, e.Err)
}

func (e *HashError) Unwrap() error {
	return e.Err
}

// IsHashError reports whether err is a *HashError.
func IsHashError(err error) bool {
	var he *HashError
	return errors.As(err, &he)
}

// Hasher computes content hashes for files on disk.
type Hasher struct {
	retry filesystem.RetryConfig
}

// New returns a Hasher with default NFS retry behavior.
func New() *Hasher {
	return &Hasher{retry: filesystem.DefaultRetryConfig()}
}

// Hash computes the hex-encoded SHA-256 of the file's content.
// I/O errors (file vanished, permission denied) are returned as *HashError.
func (h *Hasher) Hash(path string) (string, error) {
	f, err := filesystem.OpenWithRetry(path, h.retry)
	if err != nil {
		return "", &HashError{Path: path, Err: err}
	}
	defer f.Close()

	digest := sha256.New()
	n, err := io.Copy(digest, f)
	if err != nil {
		return "", &HashError{Path: path, Err: err}
	}

	metrics.ImportBytesProcessed.Add(float64(n))
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// HashReader computes the hex-encoded SHA-256 of everything readable from r.
func HashReader(r io.Reader) (string, error) {
	digest := sha256.New()
	if _, err := io.Copy(digest, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
