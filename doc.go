// Package persist provides change-triggered persistence for named,
// typed records owned by a host application. The manager compares each
// record's monotonically increasing version counter against the last
// durably-written version, serializes only the records that diverged,
// and writes them through a per-record storage strategy: a local file
// (dev), a platform config directory (dynamic), a blob compiled into
// the binary (embed), or an authenticated-encryption file (secure).
//
// Records sharing a container file are merged into the existing on-disk
// mapping before writing, so saving one record never destroys sibling
// entries or entries left behind by record types that are no longer
// registered.
//
// The package is organised into several files:
//
//	options.go      – manager configuration & defaults
//	descriptor.go   – record descriptors, strategies, formats, Var[T]
//	manager.go      – registration, initial load, Tick/SaveNow
//	snapshot.go     – last-written state cache & change detection
//	codec.go        – JSON/YAML encoding dispatch
//	container.go    – name→payload container files & merge policy
//	resolver.go     – (strategy, mode) → backend resolution
//	backend.go      – file, embed and in-memory backends
//	secure.go       – encrypted-at-rest backend
//	crypto.go       – AEAD seal/open helpers
//	paths.go        – platform directory resolution
//	atomic_write.go – temp file + fsync + rename writes
//	filelock.go     – advisory exclusive locks per backend path
package persist

// Version is the container schema version stamped into every container
// file on write, alongside a last-saved timestamp.
const Version = "1.0.0"
