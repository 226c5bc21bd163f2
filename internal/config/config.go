package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
)

// Config represents the main configuration for offsync.
type Config struct {
	BaseDir    string           `toml:"base_dir" validate:"required"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Workers    int              `toml:"workers" validate:"gte=0"` // 0 means one per CPU
	Filter     FilterConfig     `toml:"filter"`
	Snapshot   SnapshotConfig   `toml:"snapshot"`
	Diff       DiffConfig       `toml:"diff"`
	Patch      PatchConfig      `toml:"patch"`
	Apply      ApplyConfig      `toml:"apply"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
}

// FilterConfig selects the files that take part in a sync. Patterns without '/'
// match the file name, patterns with '/' match the path relative to the root.
type FilterConfig struct {
	Include     []string `toml:"include"`
	Exclude     []string `toml:"exclude"`
	ExcludeFile string   `toml:"exclude_file,omitempty"` // extra exclude patterns, one per line
}

// SnapshotConfig holds the offsite side settings for the snapshot stage.
type SnapshotConfig struct {
	Roots  []string `toml:"roots"`
	Output string   `toml:"output,omitempty"`
}

// DiffConfig holds the local side settings for the diff stage.
type DiffConfig struct {
	TimeTolerance     int               `toml:"time_tolerance" validate:"gte=0"` // seconds
	MoveNameSensitive bool              `toml:"move_name_sensitive"`
	SearchDirs        []string          `toml:"search_dirs"`
	Roots             map[string]string `toml:"roots,omitempty"` // snapshot tag -> local directory
}

// PatchConfig controls how payloads are staged.
type PatchConfig struct {
	Dir            string `toml:"dir,omitempty"`
	ExportMode     string `toml:"export_mode" validate:"omitempty,oneof=copy hardlink prefer_hardlink script"`
	Encrypt        bool   `toml:"encrypt"`
	VerifyPayloads bool   `toml:"verify_payloads"`
	RetryCount     int    `toml:"retry_count" validate:"gte=0,lte=20"`
	RetryDelay     string `toml:"retry_delay"` // Go duration, e.g. "500ms"
}

// RetryDelayDuration parses RetryDelay. An empty value means no delay.
func (p PatchConfig) RetryDelayDuration() (time.Duration, error) {
	if p.RetryDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.RetryDelay)
	if err != nil {
		return 0, fmt.Errorf("parsing retry_delay: %w", err)
	}
	return d, nil
}

// ApplyConfig holds the offsite side settings for the apply and prune stages.
// This uses a tagged union pattern - DeletePolicy determines which other fields are relevant.
type ApplyConfig struct {
	Roots          map[string]string `toml:"roots,omitempty"` // tag -> offsite directory, overrides the manifest
	DeletePolicy   string            `toml:"delete_policy" validate:"omitempty,oneof=direct quarantine recycle_bin"`
	QuarantineDir  string            `toml:"quarantine_dir,omitempty"` // only used for delete_policy=quarantine
	TrashDir       string            `toml:"trash_dir,omitempty"`      // only used for delete_policy=recycle_bin
	IgnorableFiles []string          `toml:"ignorable_files"`
}

// EncryptionConfig selects the payload cipher.
type EncryptionConfig struct {
	Type string `toml:"type" validate:"omitempty,oneof=age test"` // "age" (default) or "test"
}

// DatabaseConfig represents configuration for the run history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"omitempty,oneof=sqlite memory"`
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Diff: DiffConfig{
			TimeTolerance: 3,
		},
		Patch: PatchConfig{
			ExportMode: "copy",
			RetryCount: 3,
			RetryDelay: "500ms",
		},
		Apply: ApplyConfig{
			DeletePolicy:   "quarantine",
			QuarantineDir:  filepath.Join(baseDir, "quarantine"),
			IgnorableFiles: []string{"Thumbs.db", ".DS_Store"},
		},
		Encryption: EncryptionConfig{Type: "age"},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
	}
}

// ExpandPaths replaces a leading ~ in every path setting with the user's home directory.
func (c *Config) ExpandPaths() error {
	paths := []*string{
		&c.BaseDir, &c.LogDir, &c.Filter.ExcludeFile, &c.Snapshot.Output,
		&c.Patch.Dir, &c.Apply.QuarantineDir, &c.Apply.TrashDir, &c.Database.DataDir,
	}
	for i := range c.Snapshot.Roots {
		paths = append(paths, &c.Snapshot.Roots[i])
	}
	for i := range c.Diff.SearchDirs {
		paths = append(paths, &c.Diff.SearchDirs[i])
	}
	for _, p := range paths {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding %q: %w", *p, err)
		}
		*p = expanded
	}
	for _, m := range []map[string]string{c.Diff.Roots, c.Apply.Roots} {
		for k, v := range m {
			expanded, err := homedir.Expand(v)
			if err != nil {
				return fmt.Errorf("expanding %q: %w", v, err)
			}
			m[k] = expanded
		}
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path, expands ~ in its paths and
// validates it.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
