// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blockhash

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"slices"
)

// Size is the length in bytes of every kiln hash.
const Size = 32

// Hash is a 32-byte content digest.
type Hash [Size]byte

// Zero is the sentinel hash of an empty tree. No real content hashes
// to it in practice; callers test for it with [Hash.IsZero].
var Zero Hash

// String returns the canonical 64-character lowercase hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the [Zero] sentinel.
func (h Hash) IsZero() bool {
	return h == Zero
}

// Compare orders hashes bytewise. Returns -1, 0, or +1.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// MarshalText implements encoding.TextMarshaler so hashes serialize as
// hex strings in JSON, YAML, and CBOR (through lib/codec).
func (h Hash) MarshalText() ([]byte, error) {
	encoded := make([]byte, hex.EncodedLen(Size))
	hex.Encode(encoded, h[:])
	return encoded, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Format returns the canonical hex form of a hash. Equivalent to
// h.String(); provided for symmetry with [Parse].
func Format(h Hash) string {
	return h.String()
}

// Parse parses a 64-character hex string into a Hash. Uppercase hex
// digits are accepted; the hash re-formats as lowercase.
func Parse(hexString string) (Hash, error) {
	var hash Hash
	if len(hexString) != hex.EncodedLen(Size) {
		return hash, fmt.Errorf("block hash is %d characters, want %d", len(hexString), hex.EncodedLen(Size))
	}
	if _, err := hex.Decode(hash[:], []byte(hexString)); err != nil {
		return Hash{}, fmt.Errorf("parsing block hash: %w", err)
	}
	return hash, nil
}

// MustParse is like [Parse] but panics on error. For constants in
// tests and fixtures.
func MustParse(hexString string) Hash {
	hash, err := Parse(hexString)
	if err != nil {
		panic("blockhash.MustParse: " + err.Error())
	}
	return hash
}

// IsValid reports whether s is a valid canonical hash string: exactly
// 64 characters, all lowercase hex digits.
func IsValid(s string) bool {
	if len(s) != hex.EncodedLen(Size) {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Sort sorts hashes in place in ascending bytewise order.
func Sort(hashes []Hash) {
	slices.SortFunc(hashes, Hash.Compare)
}
