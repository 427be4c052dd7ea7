// Package hashutil provides the streaming SHA-256 primitives the rest of
// the provenance system builds on: hashing an in-memory buffer and hashing
// a file's contents without holding the whole file in memory.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/mister-teddy/node-drive/internal/errs"
)

// chunkSize bounds the read buffer used by HashFile so peak memory stays
// independent of file size.
const chunkSize = 8 * 1024

// HashBytes returns the lowercase hex-encoded SHA-256 digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashFile streams path's contents through SHA-256 in chunkSize pieces and
// returns the lowercase hex digest. The only failure mode is ErrorKind IO.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errs.Wrap(errs.IO, "open file for hashing", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", errs.Wrap(errs.IO, "read file for hashing", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
