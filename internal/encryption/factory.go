package encryption

import (
	"fmt"

	"github.com/spf13/afero"

	"offsync-go/internal/config"
	"offsync-go/internal/offsync"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
func NewEncryptorFromConfig(fsys afero.Fs, cfg config.EncryptionConfig) (offsync.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(fsys), nil
	case "test":
		return NewTestEncryptor(fsys), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
