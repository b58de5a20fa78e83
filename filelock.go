package persist

// Scoped exclusive locks serialize writers that share one backend file.
// The lock spans the whole read-merge-write of a container, so
// interleaved processes cannot lose each other's merged entries. Locks
// are advisory: every writer must go through the manager.

// lockPathFor returns the lock file placed alongside a backend file.
func lockPathFor(path string) string { return path + ".lock" }

// withFileLock runs fn while holding an exclusive lock on the lock file
// for path. The lock is released on every exit path.
func withFileLock(path string, fn func() error) error {
	lockFile, err := acquireFileLock(lockPathFor(path))
	if err != nil {
		return err
	}
	defer releaseFileLock(lockFile)
	return fn()
}
