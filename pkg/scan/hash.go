package scan

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// Hasher computes the content digest of a file.
type Hasher interface {
	Hash(path string) (string, error)
}

// Blake3Hasher streams the file through BLAKE3 and renders the digest in the
// canonical "blake3:<hex>" form.
type Blake3Hasher struct{}

func (Blake3Hasher) Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return "blake3:" + hex.EncodeToString(h.Sum(nil)), nil
}
