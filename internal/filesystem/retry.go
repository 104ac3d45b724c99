// Package filesystem provides utilities for filesystem operations with retry
// logic for NFS-backed media volumes.
package filesystem

import (
	"errors"
	"os"
	"syscall"
	"time"

	"media-vault/internal/logging"
)

// RetryConfig configures retry behavior for filesystem operations
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns sensible defaults for NFS retry behavior
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

// isNFSStaleError checks if an error is an NFS stale file handle error
func isNFSStaleError(err error) bool {
	if err == nil {
		return false
	}

	// ESTALE (stale file handle) - errno 116 on Linux
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ESTALE
	}

	return false
}

// withRetry runs op with exponential backoff, retrying only on ESTALE.
func withRetry(name, path string, config RetryConfig, op func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			if attempt > 0 {
				logging.Info("NFS %s succeeded on retry %d for %s", name, attempt, path)
			}
			return nil
		}

		lastErr = err

		if !isNFSStaleError(err) {
			return err
		}

		if attempt < config.MaxRetries {
			logging.Debug("NFS %s stale file handle for %s, retrying in %v (attempt %d/%d)",
				name, path, backoff, attempt+1, config.MaxRetries)
			time.Sleep(backoff)

			backoff *= 2
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	logging.Warn("NFS %s failed after %d retries for %s: %v", name, config.MaxRetries, path, lastErr)
	return lastErr
}

// StatWithRetry performs os.Stat with retry logic for NFS stale file handle errors
func StatWithRetry(path string, config RetryConfig) (os.FileInfo, error) {
	var info os.FileInfo
	err := withRetry("Stat", path, config, func() error {
		var statErr error
		info, statErr = os.Stat(path)
		return statErr
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// OpenWithRetry performs os.Open with retry logic for NFS stale file handle errors
func OpenWithRetry(path string, config RetryConfig) (*os.File, error) {
	var file *os.File
	err := withRetry("Open", path, config, func() error {
		var openErr error
		file, openErr = os.Open(path)
		return openErr
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// RemoveWithRetry performs os.Remove with retry logic for NFS stale file handle errors
func RemoveWithRetry(path string, config RetryConfig) error {
	return withRetry("Remove", path, config, func() error {
		return os.Remove(path)
	})
}
