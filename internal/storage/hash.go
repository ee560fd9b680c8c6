package storage

import (
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// HashFile returns the BLAKE2b-256 digest of the file's bytes. It matches
// engine.HashFunc.
func HashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
