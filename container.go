package persist

import (
	"time"
)

// Container metadata keys, stamped on every write. Record names are not
// allowed to collide with them.
const (
	metaLastSaved = "last_saved"
	metaVersion   = "version"
)

func reservedName(name string) bool {
	return name == metaLastSaved || name == metaVersion
}

// containerFile is the in-memory form of an on-disk container: a
// mapping from record name to that record's encoded payload. Entries
// for names not currently registered ride along untouched, so partial
// registration across restarts never loses data.
type containerFile struct {
	codec   codec
	entries map[string][]byte
}

func newContainerFile(c codec) *containerFile {
	return &containerFile{codec: c, entries: map[string][]byte{}}
}

// decodeContainerFile parses raw container bytes. Empty input yields an
// empty container.
func decodeContainerFile(c codec, data []byte) (*containerFile, error) {
	entries, err := c.decodeContainer(data)
	if err != nil {
		return nil, err
	}
	return &containerFile{codec: c, entries: entries}, nil
}

func (f *containerFile) get(name string) ([]byte, bool) {
	fragment, ok := f.entries[name]
	return fragment, ok
}

// merge replaces only the supplied fragments, preserving every other
// entry verbatim.
func (f *containerFile) merge(updates map[string][]byte) {
	for name, fragment := range updates {
		f.entries[name] = fragment
	}
}

// encode serializes the container, stamping the last-saved timestamp
// and schema version.
func (f *containerFile) encode(now time.Time) ([]byte, error) {
	saved, err := f.codec.marshal(now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	version, err := f.codec.marshal(Version)
	if err != nil {
		return nil, err
	}
	f.entries[metaLastSaved] = saved
	f.entries[metaVersion] = version
	return f.codec.encodeContainer(f.entries)
}
