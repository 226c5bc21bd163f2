package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// Defaults are the locations offsync uses before a config file says otherwise.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves the default locations. OFFSYNC_CONFIG_PATH and OFFSYNC_HOME win;
// otherwise the XDG base directories are used, falling back to ~/.config and
// ~/.local/share.
func GetDefaults() (*Defaults, error) {
	configPath, err := resolvePath("OFFSYNC_CONFIG_PATH", "XDG_CONFIG_HOME", ".config", "offsync.toml")
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	baseDir, err := resolvePath("OFFSYNC_HOME", "XDG_DATA_HOME", filepath.Join(".local", "share"), "offsync")
	if err != nil {
		return nil, fmt.Errorf("resolving base directory: %w", err)
	}
	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// resolvePath returns $override, else $xdgVar/name, else ~/homeRel/name.
func resolvePath(override, xdgVar, homeRel, name string) (string, error) {
	if p := os.Getenv(override); p != "" {
		return homedir.Expand(p)
	}
	if dir := os.Getenv(xdgVar); dir != "" {
		return filepath.Join(dir, name), nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, homeRel, name), nil
}
