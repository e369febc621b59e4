// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package common

import "encoding/hex"

// PublicKey identifies a validator. It is empty only for the Genesis
// message, which has no author.
type PublicKey []byte

// Hex returns the 0x-prefixed hex encoding of the key.
func (k PublicKey) Hex() string {
	if len(k) == 0 {
		return "0x"
	}
	return "0x" + hex.EncodeToString(k)
}

func (k PublicKey) String() string { return k.Hex() }

// IsEmpty reports whether this is the Genesis "no author" key.
func (k PublicKey) IsEmpty() bool { return len(k) == 0 }

// Equal reports whether two public keys identify the same validator.
func (k PublicKey) Equal(other PublicKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// SignatureAlgorithm names the algorithm a Signature was produced with.
type SignatureAlgorithm uint8

const (
	// Ed25519 is the default signature algorithm (spec §6).
	Ed25519 SignatureAlgorithm = iota
)

func (a SignatureAlgorithm) String() string {
	switch a {
	case Ed25519:
		return "ed25519"
	default:
		return "unknown"
	}
}

// Signature is an algorithm-tagged signature over a signed-payload hash.
type Signature struct {
	Algorithm SignatureAlgorithm
	Bytes     []byte
}

// Stake is a validator's bonded weight, used throughout the finality
// detector and fork choice. Kept as uint64 (not *big.Int): bonds in this
// system are denominated in whole motes of a fixed-precision token, never
// approach 2^64, and uint64 avoids allocation in the hot voting-matrix
// update path (see consensus/finality).
type Stake = uint64
