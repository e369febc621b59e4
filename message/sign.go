// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package message

import (
	"crypto/ed25519"
	"fmt"

	"github.com/hwdag/hwnode/common"
	"golang.org/x/crypto/blake2b"
)

// ContentHash returns the Blake2b-256 digest of payload. Spec §6: "the
// Message hash is the Blake2b-256 digest of the Protobuf-encoded payload".
func ContentHash(payload []byte) common.Hash {
	return common.Hash(blake2b.Sum256(payload))
}

// GenerateKey returns a fresh Ed25519 key pair, the default signature
// algorithm per spec §6.
func GenerateKey() (common.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("message: generate key: %w", err)
	}
	return common.PublicKey(pub), priv, nil
}

// Sign computes m's hash from its SignedPayload, signs that payload with
// priv, stores both on the header, and returns the hash.
//
// Callers that produce a message (consensus/highway's Producer) must call
// Sign exactly once, after every other field is set; it is the only writer
// of Header.Signature (Verify and RehashFromPayload also set
// Header.cachedHash).
func Sign(m Message, priv ed25519.PrivateKey) (common.Hash, error) {
	h := m.GetHeader()
	if len(priv) != ed25519.PrivateKeySize {
		return common.Hash{}, fmt.Errorf("message: bad ed25519 key size %d", len(priv))
	}
	payload := m.SignedPayload()
	hash := ContentHash(payload)
	sig := ed25519.Sign(priv, payload)
	h.cachedHash = hash
	h.Signature = common.Signature{Algorithm: common.Ed25519, Bytes: sig}
	return hash, nil
}

// Verify checks that m's signature was produced by the key in m's header
// over m's current SignedPayload, and that the cached hash (if set) matches.
// Used on every incoming message before it enters the DAG (spec §4.2 step 2).
func Verify(m Message) error {
	h := m.GetHeader()
	if h.Signature.Algorithm != common.Ed25519 {
		return fmt.Errorf("message: unsupported signature algorithm %s", h.Signature.Algorithm)
	}
	if len(h.ValidatorID) != ed25519.PublicKeySize {
		return fmt.Errorf("message: bad ed25519 public key size %d", len(h.ValidatorID))
	}
	payload := m.SignedPayload()
	if !ed25519.Verify(ed25519.PublicKey(h.ValidatorID), payload, h.Signature.Bytes) {
		return fmt.Errorf("message: invalid signature from %s", h.ValidatorID.Hex())
	}
	if want := ContentHash(payload); h.cachedHash != (common.Hash{}) && h.cachedHash != want {
		return fmt.Errorf("message: hash mismatch: cached %s computed %s", h.cachedHash.Hex(), want.Hex())
	}
	h.cachedHash = ContentHash(payload)
	return nil
}

// RehashFromPayload recomputes and caches m's hash from its current field
// values without checking the signature. Used when reconstructing a
// Message from local storage, where the bytes were already verified once
// on first receipt and re-verifying on every load would be wasted work.
func RehashFromPayload(m Message) error {
	h := m.GetHeader()
	h.cachedHash = ContentHash(m.SignedPayload())
	return nil
}
