package app

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// ConfigPath returns the config file location, checking the
// MIRRORSYNC_CONFIG_PATH environment variable first and falling back to
// the XDG config directory.
func ConfigPath() string {
	if path := os.Getenv("MIRRORSYNC_CONFIG_PATH"); path != "" {
		return path
	}
	return filepath.Join(xdg.ConfigHome, "mirrorsync", "config.toml")
}
