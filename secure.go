package persist

import (
	"fmt"
	"os"
)

// SealedExtension marks encrypted-at-rest files, distinguishing them
// from plaintext containers.
const SealedExtension = ".sealed"

// secureBackend wraps a dedicated file with authenticated encryption.
// The payload is sealed before every write and opened after every read;
// key material is derived per call and never persisted.
type secureBackend struct {
	path   string
	secret []byte
}

func (b *secureBackend) load() ([]byte, bool, error) {
	sealed, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %q: %w", b.path, err)
	}
	box, err := NewSecretBox(b.secret)
	if err != nil {
		return nil, false, err
	}
	plaintext, err := box.Open(sealed)
	if err != nil {
		return nil, false, fmt.Errorf("%q: %w", b.path, err)
	}
	return plaintext, true, nil
}

func (b *secureBackend) store(data []byte) error {
	box, err := NewSecretBox(b.secret)
	if err != nil {
		return err
	}
	sealed, err := box.Seal(data)
	if err != nil {
		return err
	}
	if err := atomicWriteFile(b.path, sealed, 0600); err != nil {
		return fmt.Errorf("failed to write %q: %w", b.path, err)
	}
	return nil
}

func (b *secureBackend) location() string { return b.path }
func (b *secureBackend) shared() bool     { return false }
func (b *secureBackend) lockPath() string { return b.path }

var _ backend = (*secureBackend)(nil)
