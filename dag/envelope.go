// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package dag

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/message"
)

// storageEnvelope is the persistence-layer encoding used by pebblestore.go.
// It is deliberately distinct from message.SignedPayload: the
// wire format of §6 covers what two nodes exchange over gossip, while this
// envelope additionally carries derived fields (jRank, mainRank, signature)
// that a node computes for itself and never needs to re-derive from disk.
// gob is the standard library's own binary codec and needs no schema file,
// which fits a private on-disk format better than hand-rolling a second
// protowire schema purely for local storage.
type storageEnvelope struct {
	IsBlock bool

	ValidatorID              []byte
	ValidatorMsgSeqNum       uint64
	ValidatorPrevMessageHash common.Hash
	Parents                  []common.Hash
	Justifications           []message.Justification
	JRank                    uint64
	MainRank                 uint64
	EraID                    common.Hash
	RoundID                  uint64
	Timestamp                time.Time
	SigAlgorithm             common.SignatureAlgorithm
	SigBytes                 []byte

	// Block-only
	Deploys        []common.Hash
	IsBookingBlock bool
	IsSwitchBlock  bool

	// Block/Ballot shared
	Target        common.Hash
	PostStateHash common.Hash
	Bonds         []message.Bond
}

func encodeMessage(m message.Message) ([]byte, error) {
	h := m.GetHeader()
	env := storageEnvelope{
		IsBlock:                  m.IsBlock(),
		ValidatorID:              h.ValidatorID,
		ValidatorMsgSeqNum:       h.ValidatorMsgSeqNum,
		ValidatorPrevMessageHash: h.ValidatorPrevMessageHash,
		Parents:                  h.Parents,
		Justifications:           h.Justifications,
		JRank:                    h.JRank,
		MainRank:                 h.MainRank,
		EraID:                    h.EraID,
		RoundID:                  h.RoundID,
		Timestamp:                h.Timestamp,
		SigAlgorithm:             h.Signature.Algorithm,
		SigBytes:                 h.Signature.Bytes,
	}
	switch v := m.(type) {
	case *message.Block:
		env.Deploys = v.Deploys
		env.IsBookingBlock = v.IsBookingBlock
		env.IsSwitchBlock = v.IsSwitchBlock
		env.PostStateHash = v.PostStateHash
		env.Bonds = v.Bonds
	case *message.Ballot:
		env.Target = v.Target
		env.PostStateHash = v.PostStateHash
		env.Bonds = v.Bonds
	default:
		return nil, fmt.Errorf("dag: unsupported message type %T", m)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("dag: encode message: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeMessage(data []byte) (message.Message, error) {
	var env storageEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, fmt.Errorf("dag: decode message: %w", err)
	}
	hdr := message.Header{
		ValidatorID:              env.ValidatorID,
		ValidatorMsgSeqNum:       env.ValidatorMsgSeqNum,
		ValidatorPrevMessageHash: env.ValidatorPrevMessageHash,
		Parents:                  env.Parents,
		Justifications:           env.Justifications,
		JRank:                    env.JRank,
		MainRank:                 env.MainRank,
		EraID:                    env.EraID,
		RoundID:                  env.RoundID,
		Timestamp:                env.Timestamp,
		Signature:                common.Signature{Algorithm: env.SigAlgorithm, Bytes: env.SigBytes},
	}
	if env.IsBlock {
		b := &message.Block{
			Header:         hdr,
			Deploys:        env.Deploys,
			PostStateHash:  env.PostStateHash,
			Bonds:          env.Bonds,
			IsBookingBlock: env.IsBookingBlock,
			IsSwitchBlock:  env.IsSwitchBlock,
		}
		if err := message.RehashFromPayload(b); err != nil {
			return nil, err
		}
		return b, nil
	}
	v := &message.Ballot{
		Header:        hdr,
		Target:        env.Target,
		PostStateHash: env.PostStateHash,
		Bonds:         env.Bonds,
	}
	if err := message.RehashFromPayload(v); err != nil {
		return nil, err
	}
	return v, nil
}
