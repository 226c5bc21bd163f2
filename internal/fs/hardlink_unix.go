//go:build unix

package fs

import (
	"errors"
	"syscall"

	"offsync-go/internal/offsync"
)

// classifyLinkError maps link failures the caller can recover from by copying.
func classifyLinkError(err error) error {
	switch {
	case errors.Is(err, syscall.EXDEV):
		return offsync.ErrCrossDevice
	case errors.Is(err, syscall.EPERM), errors.Is(err, syscall.ENOTSUP), errors.Is(err, syscall.EMLINK):
		return offsync.ErrLinkUnsupported
	}
	return nil
}
