// Package hash provides content hashing for quarantine verification.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Algorithm identifies the hashing algorithm in use.
type Algorithm string

const SHA256 Algorithm = "sha256"

// Hasher computes content hashes.
type Hasher struct {
	algorithm Algorithm
}

// New creates a hasher with the specified algorithm.
func New(algorithm Algorithm) *Hasher {
	return &Hasher{algorithm: algorithm}
}

// Default returns a SHA-256 hasher.
func Default() *Hasher {
	return New(SHA256)
}

// Sum computes the hash of data.
func (h *Hasher) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumReader streams r through the hash. Bounded memory regardless of size.
func (h *Hasher) SumReader(r io.Reader) (string, error) {
	digest := sha256.New()
	if _, err := io.Copy(digest, r); err != nil {
		return "", fmt.Errorf("failed to hash stream: %w", err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// SumFile computes the hash of the file at path.
func (h *Hasher) SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return h.SumReader(f)
}
