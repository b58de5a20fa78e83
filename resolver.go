package persist

import (
	"fmt"
	"path/filepath"
)

// resolveBackend maps a record's declared strategy and the manager's
// build mode to a concrete storage target:
//
//	strategy | dev build        | production build
//	---------+------------------+---------------------------------
//	Dev      | container file   | container file (no distinction)
//	Dynamic  | container file   | container file in config dir
//	Embed    | dedicated file   | read-only embedded blob
//	Secure   | dedicated file   | sealed file in data dir
//
// Misconfiguration (missing vendor/app identity, secret, or embed
// payload) fails here, at Initialize time, rather than surfacing on
// some later tick.
func (m *Manager) resolveBackend(d *RecordDescriptor) (backend, error) {
	switch d.Strategy {
	case StrategyDev:
		return m.containerBackend(d, m.opts.ContainerFile)

	case StrategyDynamic:
		if m.opts.Mode == ModeDev {
			return m.containerBackend(d, m.opts.ContainerFile)
		}
		dir, err := configDirFor(m.opts.App)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", d.Name, err)
		}
		return m.containerBackend(d, filepath.Join(dir, filepath.Base(m.opts.ContainerFile)))

	case StrategyEmbed:
		if m.opts.Mode == ModeDev {
			return &fileBackend{path: d.dedicatedPath()}, nil
		}
		if len(d.Embedded) == 0 {
			return nil, fmt.Errorf("record %q: %w", d.Name, ErrMissingEmbed)
		}
		return &embedBackend{name: d.Name, data: d.Embedded}, nil

	case StrategySecure:
		if m.opts.Mode == ModeDev {
			// Plaintext on purpose: dev builds favor inspectable files.
			return &fileBackend{path: d.dedicatedPath()}, nil
		}
		if len(m.opts.Secret) == 0 {
			return nil, fmt.Errorf("record %q: %w", d.Name, ErrMissingSecret)
		}
		dir, err := dataDirFor(m.opts.App)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", d.Name, err)
		}
		return &secureBackend{
			path:   filepath.Join(dir, d.Name+SealedExtension),
			secret: m.opts.Secret,
		}, nil

	default:
		return nil, fmt.Errorf("record %q: unknown strategy %v", d.Name, d.Strategy)
	}
}

// containerBackend returns the shared container backend at path,
// checking that the record's format matches the container's.
func (m *Manager) containerBackend(d *RecordDescriptor, path string) (backend, error) {
	if got := formatForPath(path); got != d.Format {
		return nil, fmt.Errorf("record %q: format %v does not match container %q (%v)",
			d.Name, d.Format, path, got)
	}
	return &fileBackend{path: path, container: true}, nil
}

// dedicatedPath is the dev-mode file for Embed/Secure records.
func (d *RecordDescriptor) dedicatedPath() string {
	if d.Path != "" {
		return d.Path
	}
	return d.Name + d.Format.extension()
}
