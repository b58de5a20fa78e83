package persist

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// To enable testing without polluting the user's home directory, these
// functions are defined as variables. The test suite can then override
// them to point to a temporary directory.
var (
	configDirFor = ConfigDirectory
	dataDirFor   = DataDirectory
)

// SetTestDirs overrides platform-directory resolution for testing.
// This should only be used in tests.
func SetTestDirs(configDir, dataDir string) {
	configDirFor = func(app AppInfo) (string, error) {
		return filepath.Join(configDir, app.Vendor, app.Name), nil
	}
	dataDirFor = func(app AppInfo) (string, error) {
		return filepath.Join(dataDir, app.Vendor, app.Name), nil
	}
}

// ResetDirs resets platform-directory resolution to the defaults.
// This should only be used in tests.
func ResetDirs() {
	configDirFor = ConfigDirectory
	dataDirFor = DataDirectory
}

// ConfigDirectory resolves the per-user configuration directory for the
// application, e.g. ~/.config/{vendor}/{app} on Linux. Used by the
// dynamic strategy in production mode.
func ConfigDirectory(app AppInfo) (string, error) {
	if app.empty() {
		return "", ErrMissingAppInfo
	}
	return filepath.Join(xdg.ConfigHome, app.Vendor, app.Name), nil
}

// DataDirectory resolves the per-user data directory for the
// application, e.g. ~/.local/share/{vendor}/{app} on Linux. Used by the
// secure strategy in production mode.
func DataDirectory(app AppInfo) (string, error) {
	if app.empty() {
		return "", ErrMissingAppInfo
	}
	return filepath.Join(xdg.DataHome, app.Vendor, app.Name), nil
}
