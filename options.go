package persist

import "log/slog"

// Options configures a Manager.
//
//   - Mode:          build mode consumed by strategy resolution
//   - App:           vendor/app identity for platform directories
//   - Secret:        key material for the secure strategy
//   - ContainerFile: the shared container file used by Dev/Dynamic
//   - Logger:        structured logger (nil = slog.Default())
//
// Zero values fall back to DefaultOptions().
type Options struct {
	// Mode selects dev or production behavior at runtime; the same
	// binary can run in either.
	Mode Mode
	// App identifies the application for Dynamic/Secure records in
	// production mode. Leaving it empty while such a record is
	// registered makes Initialize fail with ErrMissingAppInfo.
	App AppInfo
	// Secret is the key material for the secure strategy in production
	// mode. Never persisted.
	Secret []byte
	// ContainerFile is the local container file shared by Dev records
	// (and Dynamic records in dev mode). Its extension selects the
	// container format. In production mode, Dynamic records use a file
	// of the same base name inside the platform config directory.
	ContainerFile string
	// Logger receives debug/warn events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the configuration used for unset fields.
func DefaultOptions() Options {
	return Options{
		Mode:          ModeDev,
		ContainerFile: "persist.json",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ContainerFile == "" {
		o.ContainerFile = def.ContainerFile
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
