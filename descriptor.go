package persist

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Format selects the serialization format for a record.
type Format int

const (
	// FormatJSON serializes via encoding/json. The default.
	FormatJSON Format = iota
	// FormatYAML serializes via gopkg.in/yaml.v3.
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// extension returns the file extension for the format, dot included.
func (f Format) extension() string {
	switch f {
	case FormatYAML:
		return ".yaml"
	default:
		return ".json"
	}
}

// formatForPath picks a format from a file extension, defaulting to JSON.
func formatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Strategy selects the storage policy for a record.
type Strategy int

const (
	// StrategyDev stores the record in the shared local container file
	// in both modes. The default.
	StrategyDev Strategy = iota
	// StrategyDynamic stores the record in the shared local container
	// file in dev mode, and in the platform config directory keyed by
	// (vendor, app) in production mode.
	StrategyDynamic
	// StrategyEmbed stores the record in a dedicated local file in dev
	// mode (read-write, for tuning) and serves a blob compiled into the
	// binary in production mode; production writes are no-ops that
	// report success.
	StrategyEmbed
	// StrategySecure stores the record in a dedicated plaintext local
	// file in dev mode, and as an authenticated-encryption file in the
	// platform data directory in production mode.
	StrategySecure
)

func (s Strategy) String() string {
	switch s {
	case StrategyDev:
		return "dev"
	case StrategyDynamic:
		return "dynamic"
	case StrategyEmbed:
		return "embed"
	case StrategySecure:
		return "secure"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Mode is the build mode consumed by strategy resolution. It is a
// runtime flag rather than a compile-time variant so the same binary is
// testable in both modes.
type Mode int

const (
	ModeDev Mode = iota
	ModeProduction
)

func (m Mode) String() string {
	if m == ModeProduction {
		return "production"
	}
	return "dev"
}

// AppInfo identifies the application for platform-directory resolution.
type AppInfo struct {
	Vendor string
	Name   string
}

func (a AppInfo) empty() bool { return a.Vendor == "" && a.Name == "" }

// Accessor is the manager's handle to a live record owned by the host.
// The manager never constructs or destroys the live value; it borrows
// access per tick. ReadCurrent must return a monotonically increasing
// version that changes whenever the value is mutated.
type Accessor interface {
	// ReadCurrent returns the current value and its change-version.
	ReadCurrent() (value any, version uint64)
	// WriteValue replaces the live value with a loaded one.
	WriteValue(value any) error
	// NewValue returns a pointer to a fresh zero value, used as the
	// decode target when loading.
	NewValue() any
}

// RecordDescriptor declares one persistable record. Descriptors are
// registered before Initialize and are read-only thereafter.
type RecordDescriptor struct {
	// Name uniquely identifies the record; it is the key in container
	// files and in all manager lookups.
	Name string
	// Format selects the serialization format. For Dev/Dynamic records
	// it must match the container file's format.
	Format Format
	// Strategy selects the storage policy.
	Strategy Strategy
	// Path overrides the dedicated file location for Embed and Secure
	// records in dev mode. Ignored by Dev/Dynamic, which always use the
	// shared container file. Defaults to Name plus the format extension.
	Path string
	// Embedded is the payload served by the embed backend in production
	// mode, typically supplied via go:embed.
	Embedded []byte
	// DisableAutoSave excludes the record from Tick; it is still
	// written by SaveNow and SaveAll.
	DisableAutoSave bool
	// Accessor is the handle to the live value.
	Accessor Accessor
}

// Var is a mutex-guarded live record with built-in change tracking: the
// version counter increments on every Set. It is the reference Accessor
// implementation for hosts without their own change-tracking mechanism.
type Var[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
}

// NewVar returns a Var holding the given default value.
func NewVar[T any](value T) *Var[T] {
	return &Var[T]{value: value, version: 1}
}

// Get returns the current value.
func (v *Var[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Set replaces the value and bumps the change-version.
func (v *Var[T]) Set(value T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = value
	v.version++
}

// Update applies fn to the value under the lock and bumps the version.
func (v *Var[T]) Update(fn func(T) T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = fn(v.value)
	v.version++
}

// ReadCurrent implements Accessor.
func (v *Var[T]) ReadCurrent() (any, uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value, v.version
}

// WriteValue implements Accessor. It accepts either T or *T.
func (v *Var[T]) WriteValue(value any) error {
	var next T
	switch x := value.(type) {
	case T:
		next = x
	case *T:
		next = *x
	default:
		return fmt.Errorf("persist: cannot assign %T to record of type %T", value, next)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = next
	v.version++
	return nil
}

// NewValue implements Accessor.
func (v *Var[T]) NewValue() any { return new(T) }

var _ Accessor = (*Var[struct{}])(nil)
