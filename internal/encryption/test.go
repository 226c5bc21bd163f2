package encryption

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"offsync-go/internal/offsync"
)

// testHeader is prepended to data by TestCipher to make encrypted output
// clearly different from plaintext while remaining deterministic and reversible.
var testHeader = []byte("OSENC\x00\x00\x00")

// TestEncryptor is a simple, deterministic encryptor for testing.
// Setup stores the passphrase in the clear so Unlock can reject a wrong one; the cipher
// prepends a fixed 8-byte header and strips it again. No crypto is involved.
type TestEncryptor struct {
	fs          afero.Fs
	setupCalled bool
}

var _ offsync.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a new TestEncryptor storing its key file on fsys.
func NewTestEncryptor(fsys afero.Fs) *TestEncryptor {
	return &TestEncryptor{fs: fsys}
}

func (e *TestEncryptor) Setup(patchDir, passphrase string) (offsync.StreamCipher, error) {
	e.setupCalled = true
	keyPath := filepath.Join(patchDir, KeyFileName)
	if _, err := e.fs.Stat(keyPath); err == nil {
		return e.Unlock(patchDir, passphrase)
	}
	if err := e.fs.MkdirAll(patchDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating patch directory: %w", err)
	}
	if err := afero.WriteFile(e.fs, keyPath, []byte("TEST:"+passphrase), 0o600); err != nil {
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	return &TestCipher{}, nil
}

func (e *TestEncryptor) Unlock(patchDir, passphrase string) (offsync.StreamCipher, error) {
	data, err := afero.ReadFile(e.fs, filepath.Join(patchDir, KeyFileName))
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	if string(data) != "TEST:"+passphrase {
		return nil, ErrWrongPassphrase
	}
	return &TestCipher{}, nil
}

// TestCipher adds and strips the test header.
type TestCipher struct{}

var _ offsync.StreamCipher = (*TestCipher)(nil)

func (c *TestCipher) EncryptStream(w io.Writer) (io.WriteCloser, error) {
	if _, err := w.Write(testHeader); err != nil {
		return nil, fmt.Errorf("writing test header: %w", err)
	}
	return nopWriteCloser{w}, nil
}

func (c *TestCipher) DecryptStream(r io.Reader) (io.Reader, error) {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	return r, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
