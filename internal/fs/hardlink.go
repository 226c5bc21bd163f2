package fs

import (
	"fmt"
	"os"

	"github.com/spf13/afero"

	"offsync-go/internal/offsync"
)

// HardLinker implements offsync.HardLinker. Links are only possible on the real
// filesystem; any other afero backend reports offsync.ErrLinkUnsupported.
type HardLinker struct {
	fs afero.Fs
}

var _ offsync.HardLinker = (*HardLinker)(nil)

func NewHardLinker(fsys afero.Fs) *HardLinker {
	return &HardLinker{fs: fsys}
}

// Link creates newPath as a hard link to existing.
func (l *HardLinker) Link(existing, newPath string) error {
	if _, ok := l.fs.(*afero.OsFs); !ok {
		return offsync.ErrLinkUnsupported
	}
	if err := os.Link(existing, newPath); err != nil {
		if classified := classifyLinkError(err); classified != nil {
			return fmt.Errorf("%w: %v", classified, err)
		}
		return fmt.Errorf("linking %s: %w", newPath, err)
	}
	return nil
}
