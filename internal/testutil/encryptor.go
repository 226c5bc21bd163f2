package testutil

import (
	"github.com/spf13/afero"

	"offsync-go/internal/encryption"
	"offsync-go/internal/offsync"
)

// NewTestEncryptor creates a fast, insecure encryptor that keeps its key in fsys.
func NewTestEncryptor(fsys afero.Fs) offsync.Encryptor {
	return encryption.NewTestEncryptor(fsys)
}
