package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ChecksumLen is the length of a checksum in bytes.
const ChecksumLen = sha256.Size

// Checksum identifies an instrumented oracle script. It is the SHA-256 hash
// of the instrumented bytes, so the same raw script always maps to the same
// compiled module.
type Checksum [ChecksumLen]byte

// CreateChecksum hashes code.
func CreateChecksum(code []byte) Checksum {
	return sha256.Sum256(code)
}

func (cs Checksum) String() string {
	return hex.EncodeToString(cs[:])
}

// Bytes returns the checksum as a byte slice.
func (cs Checksum) Bytes() []byte {
	return cs[:]
}

// ParseChecksum decodes a hex encoded checksum.
func ParseChecksum(input string) (Checksum, error) {
	var cs Checksum
	data, err := hex.DecodeString(input)
	if err != nil {
		return cs, fmt.Errorf("invalid checksum %q: %w", input, err)
	}
	if len(data) != ChecksumLen {
		return cs, fmt.Errorf("got %d bytes for checksum, want %d", len(data), ChecksumLen)
	}
	copy(cs[:], data)
	return cs, nil
}
