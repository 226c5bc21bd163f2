//go:build !unix

package fs

import "offsync-go/internal/offsync"

// classifyLinkError treats every link failure as recoverable by copying.
func classifyLinkError(error) error {
	return offsync.ErrLinkUnsupported
}
