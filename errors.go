package persist

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAppInfo signals that a Dynamic or Secure record resolved
	// to a platform directory in production mode, but no vendor/app
	// identity was configured. A relative fallback path inside a
	// packaged binary is almost always wrong, so resolution fails fast.
	ErrMissingAppInfo = errors.New("persist: vendor/app identity required in production mode")

	// ErrMissingSecret signals that a Secure record was resolved in
	// production mode without a secret key.
	ErrMissingSecret = errors.New("persist: secret key required for secure strategy")

	// ErrMissingEmbed signals that an Embed record was resolved in
	// production mode without an embedded payload.
	ErrMissingEmbed = errors.New("persist: embedded payload required in production mode")

	// ErrTampered signals that authenticated decryption failed. It
	// covers both corruption and forged data; the scheme cannot and
	// need not distinguish them.
	ErrTampered = errors.New("persist: data authentication failed")

	// ErrNotRegistered is returned for operations naming an unknown record.
	ErrNotRegistered = errors.New("persist: record not registered")

	// ErrAlreadyInitialized is returned by Register and Initialize after
	// Initialize has run; the descriptor table is read-only from then on.
	ErrAlreadyInitialized = errors.New("persist: manager already initialized")

	// ErrNotInitialized is returned by Tick and SaveNow before Initialize.
	ErrNotInitialized = errors.New("persist: manager not initialized")
)

// FormatError reports an encode or decode failure. It wraps the
// serializer's own error, which carries the locating detail (byte
// offset for JSON, line number for YAML).
type FormatError struct {
	Format Format
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("persist: %s codec: %v", e.Format, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// LoadError reports a per-record failure during the initial load. It is
// recoverable: the record keeps its default in-memory value and the
// offending backend is left untouched until the next successful save.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("persist: load %q: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
