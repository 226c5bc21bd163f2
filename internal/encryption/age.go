package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
	"github.com/spf13/afero"

	"offsync-go/internal/offsync"
)

// KeyFileName is the name of the key file inside a patch directory.
const KeyFileName = "patch.key"

// ErrWrongPassphrase is returned by Unlock when the passphrase does not open the key.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// AgeEncryptor implements offsync.Encryptor using filippo.io/age with X25519 keys.
// Every patch directory gets its own identity, stored in patch.key and encrypted with
// the user's passphrase using age's scrypt-based passphrase encryption.
type AgeEncryptor struct {
	fs afero.Fs
	// workFactor is the scrypt log2 cost; zero keeps age's default.
	workFactor int
}

var _ offsync.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor creates a new AgeEncryptor storing keys on fsys.
func NewAgeEncryptor(fsys afero.Fs) *AgeEncryptor {
	return &AgeEncryptor{fs: fsys}
}

// Setup generates a new X25519 identity for patchDir and writes it encrypted with
// passphrase. If the patch already has a key, it is unlocked instead so payloads of a
// resumed run share one key.
func (e *AgeEncryptor) Setup(patchDir, passphrase string) (offsync.StreamCipher, error) {
	keyPath := filepath.Join(patchDir, KeyFileName)
	if _, err := e.fs.Stat(keyPath); err == nil {
		return e.Unlock(patchDir, passphrase)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if e.workFactor > 0 {
		recipient.SetWorkFactor(e.workFactor)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return nil, fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encrypted private key: %w", err)
	}

	if err := e.fs.MkdirAll(patchDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating patch directory: %w", err)
	}
	f, err := e.fs.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating key file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		e.fs.Remove(keyPath)
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	if err := f.Close(); err != nil {
		e.fs.Remove(keyPath)
		return nil, fmt.Errorf("closing key file: %w", err)
	}

	return &AgeCipher{identity: identity}, nil
}

// Unlock decrypts the key of patchDir with passphrase.
func (e *AgeEncryptor) Unlock(patchDir, passphrase string) (offsync.StreamCipher, error) {
	privData, err := afero.ReadFile(e.fs, filepath.Join(patchDir, KeyFileName))
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(bytes.NewReader(privData), scrypt)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("decrypting key file: %w", err)
	}

	keyData, err := io.ReadAll(decReader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted key: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(keyData))
	if err != nil {
		return nil, fmt.Errorf("parsing key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in key file")
	}
	identity, ok := identities[0].(*age.X25519Identity)
	if !ok {
		return nil, fmt.Errorf("unexpected key type %T", identities[0])
	}
	return &AgeCipher{identity: identity}, nil
}

// AgeCipher holds an unlocked patch identity. Payloads are encrypted to its recipient;
// each ciphertext starts with its own age header.
type AgeCipher struct {
	identity *age.X25519Identity
}

var _ offsync.StreamCipher = (*AgeCipher)(nil)

func (c *AgeCipher) EncryptStream(w io.Writer) (io.WriteCloser, error) {
	enc, err := age.Encrypt(w, c.identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	return enc, nil
}

func (c *AgeCipher) DecryptStream(r io.Reader) (io.Reader, error) {
	dec, err := age.Decrypt(r, c.identity)
	if err != nil {
		return nil, fmt.Errorf("creating decrypted reader: %w", err)
	}
	return dec, nil
}
