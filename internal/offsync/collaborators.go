package offsync

import (
	"context"
	"io"
	"time"
)

// Filter decides whether a file under a root takes part in the sync.
// relativePath uses forward slashes.
type Filter interface {
	Include(relativePath string) bool
}

// CopyOptions adjusts a single FileTransfer.CopyFile call.
type CopyOptions struct {
	// Encrypt wraps the destination writer, if set.
	Encrypt func(w io.Writer) (io.WriteCloser, error)
	// Decrypt wraps the source reader, if set.
	Decrypt func(r io.Reader) (io.Reader, error)
	// ModTime is applied to the destination. Zero keeps the source's modification time.
	ModTime time.Time
	// Progress receives the number of bytes read since the previous call.
	Progress func(n int64)
}

// FileTransfer performs streamed file copies and hashing.
// Implementations check ctx between chunks and never leave a partial destination behind.
type FileTransfer interface {
	CopyFile(ctx context.Context, src, dst string, opts CopyOptions) error
	ComputeHash(ctx context.Context, path string) (string, error)
}

// HardLinker creates hard links. It returns ErrCrossDevice or ErrLinkUnsupported when
// the caller should fall back to copying.
type HardLinker interface {
	Link(existing, newPath string) error
}

// Deleter removes a file or directory that lives inside root, according to its policy.
type Deleter interface {
	Delete(root Root, path string) error
}

// StreamCipher wraps payload streams. Ciphertext is always longer than its plaintext.
type StreamCipher interface {
	EncryptStream(w io.Writer) (io.WriteCloser, error)
	DecryptStream(r io.Reader) (io.Reader, error)
}

// Encryptor manages the key material of a patch directory.
type Encryptor interface {
	// Setup creates the patch key protected by passphrase, or unlocks the existing one
	// so that a resumed run keeps encrypting to the same key.
	Setup(patchDir, passphrase string) (StreamCipher, error)
	// Unlock loads the patch key. A wrong passphrase is an error.
	Unlock(patchDir, passphrase string) (StreamCipher, error)
}

// PackageStore reads and writes snapshot and manifest packages.
type PackageStore interface {
	WriteSnapshot(path string, s *Snapshot) error
	ReadSnapshot(path string) (*Snapshot, error)
	WriteManifest(patchDir string, m *Manifest) error
	ReadManifest(patchDir string) (*Manifest, error)
}
