package offsync

import "errors"

// Fatal conditions. All of them are detected before any filesystem mutation.
var (
	ErrRootNotFound      = errors.New("root directory does not exist")
	ErrDuplicateRoot     = errors.New("duplicate root directory name")
	ErrNestedRoots       = errors.New("nested roots")
	ErrIncompleteMapping = errors.New("incomplete mapping")
	ErrManifestNotFound  = errors.New("manifest not found")
	ErrPasswordRequired  = errors.New("payloads are encrypted but no password was provided")
	ErrPatchMismatch     = errors.New("patch directory holds a patch with a different encryption setting")
)

// Per-record conditions.
var (
	ErrPayloadMissing = errors.New("payload file does not exist")
	ErrPayloadCorrupt = errors.New("payload checksum mismatch")
	ErrTargetMissing  = errors.New("target file does not exist")
	ErrTargetExists   = errors.New("target file already exists")
	ErrSourceMissing  = errors.New("move source does not exist")
	ErrOutsideRoot    = errors.New("path escapes its root directory")
	ErrUnknownRoot    = errors.New("record refers to an unknown root")
)

// Collaborator conditions.
var (
	// ErrCrossDevice is returned by HardLinker when source and destination are on
	// different volumes.
	ErrCrossDevice = errors.New("hard link across devices")
	// ErrLinkUnsupported is returned by HardLinker when the filesystem cannot link.
	ErrLinkUnsupported = errors.New("hard links not supported")
)
