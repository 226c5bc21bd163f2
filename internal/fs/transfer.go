package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"offsync-go/internal/offsync"
)

// chunkSize is the copy granularity; cancellation is checked between chunks.
const chunkSize = 1 << 20

// Transfer implements offsync.FileTransfer on top of an afero filesystem.
type Transfer struct {
	fs afero.Fs
}

var _ offsync.FileTransfer = (*Transfer)(nil)

// NewTransfer creates a Transfer operating on fsys.
func NewTransfer(fsys afero.Fs) *Transfer {
	return &Transfer{fs: fsys}
}

// CopyFile streams src into dst. The data is written to a temporary file next to dst
// which is renamed into place only after a complete copy, so dst never holds a partial
// file. The temporary file is removed on failure or cancellation.
func (t *Transfer) CopyFile(ctx context.Context, src, dst string, opts offsync.CopyOptions) (err error) {
	in, err := t.fs.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	var r io.Reader = in
	if opts.Decrypt != nil {
		r, err = opts.Decrypt(in)
		if err != nil {
			return fmt.Errorf("opening decrypted reader: %w", err)
		}
	}

	tmp, err := afero.TempFile(t.fs, filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if err != nil {
			if !closed {
				tmp.Close()
			}
			t.fs.Remove(tmpName)
		}
	}()

	var w io.Writer = tmp
	var enc io.WriteCloser
	if opts.Encrypt != nil {
		enc, err = opts.Encrypt(tmp)
		if err != nil {
			return fmt.Errorf("opening encrypted writer: %w", err)
		}
		w = enc
	}

	if err = copyChunks(ctx, w, r, opts.Progress); err != nil {
		return err
	}
	if enc != nil {
		if err = enc.Close(); err != nil {
			return fmt.Errorf("finalizing encryption: %w", err)
		}
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err = t.fs.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = info.ModTime()
	}
	if err = t.fs.Chtimes(tmpName, modTime, modTime); err != nil {
		return fmt.Errorf("setting modification time: %w", err)
	}
	if err = t.fs.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// ComputeHash returns the hex-encoded SHA-256 of the file at path.
func (t *Transfer) ComputeHash(ctx context.Context, path string) (string, error) {
	f, err := t.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if err := copyChunks(ctx, h, f, nil); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyChunks(ctx context.Context, w io.Writer, r io.Reader, progress func(int64)) error {
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("writing: %w", err)
			}
			if progress != nil {
				progress(int64(n))
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("reading: %w", rerr)
		}
	}
}
