package fs

import (
	"fmt"

	"github.com/spf13/afero"

	"offsync-go/internal/config"
	"offsync-go/internal/offsync"
)

// NewDeleterFromConfig creates a Deleter for the configured delete policy.
func NewDeleterFromConfig(fsys afero.Fs, cfg config.ApplyConfig, clock offsync.Clock, logger offsync.Logger) (offsync.Deleter, error) {
	switch cfg.DeletePolicy {
	case PolicyDirect:
		return NewDirectDeleter(fsys), nil
	case PolicyQuarantine, "":
		if cfg.QuarantineDir == "" {
			return nil, fmt.Errorf("quarantine_dir required for delete policy %q", PolicyQuarantine)
		}
		return NewQuarantineDeleter(fsys, cfg.QuarantineDir, clock.Now()), nil
	case PolicyRecycleBin:
		dir := cfg.TrashDir
		if dir == "" {
			var err error
			if dir, err = DefaultTrashDir(); err != nil {
				return nil, err
			}
		}
		return NewRecycleBinDeleter(fsys, dir, clock, logger), nil
	default:
		return nil, fmt.Errorf("unknown delete policy: %q", cfg.DeletePolicy)
	}
}

// NewFilterFromConfig compiles the configured patterns, adding those listed in the
// exclude file if one is set.
func NewFilterFromConfig(fsys afero.Fs, cfg config.FilterConfig) (*Filter, error) {
	exclude := append([]string(nil), cfg.Exclude...)
	if cfg.ExcludeFile != "" {
		extra, err := ParseIgnoreFile(fsys, cfg.ExcludeFile)
		if err != nil {
			return nil, err
		}
		exclude = append(exclude, extra...)
	}
	return NewFilter(cfg.Include, exclude)
}
