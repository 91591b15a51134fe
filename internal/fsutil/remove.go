package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRemoveRetry covers platforms where a just-closed file can stay
// locked for a moment (antivirus, Windows handle release).
var DefaultRemoveRetry = RetryConfig{
	MaxAttempts: 5,
	BaseDelay:   50 * time.Millisecond,
	MaxDelay:    500 * time.Millisecond,
}

// removeFunc is swapped in tests.
var removeFunc = os.Remove

// RemoveWithRetry deletes path with exponential backoff. A path that is
// already gone counts as removed.
func RemoveWithRetry(path string, cfg RetryConfig) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRemoveRetry.MaxAttempts
	}

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := removeFunc(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		time.Sleep(delay)
		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("remove %s: all %d attempts failed, last error: %w", path, cfg.MaxAttempts, lastErr)
}

// TempFile is a scoped temporary artifact. Close removes it.
type TempFile struct {
	*os.File
	retry RetryConfig
	done  bool
}

// CreateTemp wraps os.CreateTemp. Callers must defer Close.
func CreateTemp(dir, pattern string) (*TempFile, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	return &TempFile{File: f, retry: DefaultRemoveRetry}, nil
}

// Close closes the handle and removes the file. Safe to call more than once.
func (t *TempFile) Close() error {
	if t.done {
		return nil
	}
	t.done = true
	closeErr := t.File.Close()
	if closeErr != nil && errors.Is(closeErr, os.ErrClosed) {
		closeErr = nil
	}
	rmErr := RemoveWithRetry(t.Name(), t.retry)
	return errors.Join(closeErr, rmErr)
}
