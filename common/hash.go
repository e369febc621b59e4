// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

// Package common defines the small value types shared across the consensus
// core: content hashes, validator public keys and signatures.
package common

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// HashLength is the size in bytes of a Blake2b-256 digest.
const HashLength = 32

// Hash is an opaque, content-addressed identifier for a Message.
type Hash [HashLength]byte

// BytesToHash converts b to a Hash, left-padding or truncating as needed.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// HexToHash parses a 0x-prefixed hex string into a Hash.
func HexToHash(s string) Hash {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, _ := hex.DecodeString(s)
	return BytesToHash(b)
}

// Bytes returns a copy of the hash bytes.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the 0x-prefixed hex encoding of h.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

// IsZero reports whether h is the zero hash (used to mark Genesis fields).
func (h Hash) IsZero() bool { return h == Hash{} }

// Less gives a deterministic total order over hashes, used to sort
// secondary parents and tie-break equal-weight fork-choice candidates.
func (h Hash) Less(other Hash) bool { return bytes.Compare(h[:], other[:]) < 0 }

// Cmp compares h to other as bytes.Compare does.
func (h Hash) Cmp(other Hash) int { return bytes.Compare(h[:], other[:]) }

// MarshalText implements encoding.TextMarshaler for JSON/TOML output.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	s := string(text)
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("common: invalid hash hex: %w", err)
	}
	if len(b) != HashLength {
		return fmt.Errorf("common: hash must be %d bytes, got %d", HashLength, len(b))
	}
	copy(h[:], b)
	return nil
}

// HashesEqual reports whether two hash slices contain the same hashes,
// ignoring order.
func HashesEqual(a, b []Hash) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[Hash]int, len(a))
	for _, h := range a {
		seen[h]++
	}
	for _, h := range b {
		seen[h]--
		if seen[h] < 0 {
			return false
		}
	}
	return true
}
