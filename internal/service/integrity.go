package service

import (
	"crypto/sha256"
	"encoding/hex"
)

// IntegrityHasher fingerprints document bytes for tamper evidence.
type IntegrityHasher struct{}

// Sum returns the lowercase hex SHA-256 of data.
func (IntegrityHasher) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
