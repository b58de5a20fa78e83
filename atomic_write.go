package persist

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
)

// RenameError wraps a rename failure with the temporary file path, so
// callers (and tests) can inspect what was left behind.
type RenameError struct {
	Err      error
	tempPath string
}

func (e RenameError) Error() string    { return e.Err.Error() }
func (e RenameError) TempPath() string { return e.tempPath }
func (e RenameError) Unwrap() error    { return e.Err }

// atomicWriteFile safely writes data by using a temporary file and an
// atomic rename, so a crash mid-write never leaves a half-written
// backend file behind.
func atomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	// Ensure the target directory exists
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Create temp file in the same directory to guarantee atomic rename works.
	tempFile, err := os.CreateTemp(dir, ".tmp-persist-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	// Ensure the temp file is removed on any error path.
	// On success, the rename operation moves it, so Remove will fail harmlessly.
	var success bool
	defer func() {
		if !success {
			if err := os.Remove(tempFile.Name()); err != nil {
				slog.Warn("failed to remove temporary file", "path", tempFile.Name(), "error", err)
			}
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil { // Ensure data is on disk.
		tempFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file %q: %w", tempFile.Name(), err)
	}
	if err := os.Chmod(tempFile.Name(), perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	// Perform the platform-specific atomic rename.
	var renameErr error
	if runtime.GOOS == "windows" {
		renameErr = atomicRenameWindows(tempFile.Name(), filename)
	} else {
		renameErr = os.Rename(tempFile.Name(), filename)
	}

	if renameErr != nil {
		return RenameError{Err: renameErr, tempPath: tempFile.Name()}
	}
	success = true
	return nil
}
