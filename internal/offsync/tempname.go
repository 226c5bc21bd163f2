package offsync

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// TempName derives the payload file name of a record from its identity and metadata.
// Two records with the same root, path, modification time and size share a payload.
func TempName(r FileRecord) string {
	h := sha256.New()
	h.Write([]byte(r.TopDirectory))
	h.Write([]byte(r.RelativePath))
	h.Write([]byte(r.ModTime.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(strconv.FormatInt(r.Size, 10)))
	return hex.EncodeToString(h.Sum(nil))
}
