package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
)

// HashLength is the length of a hex-encoded content hash.
const HashLength = sha256.Size * 2

// HashContent returns the hex-encoded SHA-256 digest of content. Every object
// identity in the repository (commit, chunk, pack checksum, LFS oid) is derived
// from it.
func HashContent(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// IsValidHash reports whether hash looks like a value produced by HashContent.
func IsValidHash(hash string) bool {
	if len(hash) != HashLength {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

// FanOut returns the slash separated fan-out directory for a hash:
// "<hash[0:2]>/<hash[2:4]>/<hash>". Hashes shorter than four characters
// are returned unchanged.
func FanOut(hash string) string {
	if len(hash) < 4 {
		return hash
	}
	return path.Join(hash[:2], hash[2:4], hash)
}
