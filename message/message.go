// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

// Package message defines the DAG's signed node type (spec §3): Block and
// Ballot, their shared header, and the justification/bond value types.
package message

import (
	"time"

	"github.com/hwdag/hwnode/common"
)

// Justification names the latest message the creator had seen from a given
// validator at the time it authored a new message.
type Justification struct {
	Validator     common.PublicKey
	LatestMessage common.Hash
}

// Bond is a validator's stake as recorded in a block's post-state.
type Bond struct {
	Validator common.PublicKey
	Stake     common.Stake
}

// Header carries the fields common to every Message (spec §3).
type Header struct {
	ValidatorID              common.PublicKey
	ValidatorMsgSeqNum       uint64
	ValidatorPrevMessageHash common.Hash
	Parents                  []common.Hash
	Justifications           []Justification
	JRank                    uint64
	MainRank                 uint64
	EraID                    common.Hash
	RoundID                  uint64
	Timestamp                time.Time
	Signature                common.Signature

	// cachedHash memoizes Hash(); zero until computed by Sign, Verify or
	// RehashFromPayload.
	cachedHash common.Hash
}

// MainParent returns the first parent, or the zero hash for Genesis.
func (h *Header) MainParent() common.Hash {
	if len(h.Parents) == 0 {
		return common.Hash{}
	}
	return h.Parents[0]
}

// IsGenesis reports whether this message has no parents and seqNum 0 (spec
// §3 invariant).
func (h *Header) IsGenesis() bool { return len(h.Parents) == 0 && h.ValidatorMsgSeqNum == 0 }

// Hash returns the content hash of the signed payload. Sign, Verify or
// RehashFromPayload must be called first (or the zero hash is returned).
func (h *Header) Hash() common.Hash { return h.cachedHash }

// Message is implemented by *Block and *Ballot.
type Message interface {
	Hash() common.Hash
	GetHeader() *Header
	IsBlock() bool
	// SignedPayload returns the canonical bytes that are hashed and signed.
	SignedPayload() []byte
}

// Block carries deploys and the resulting post-state (spec §3).
type Block struct {
	Header
	Deploys       []common.Hash
	PostStateHash common.Hash
	Bonds         []Bond
	IsBookingBlock bool
	IsSwitchBlock  bool
}

func (b *Block) IsBlock() bool       { return true }
func (b *Block) GetHeader() *Header  { return &b.Header }
func (b *Block) Hash() common.Hash   { return b.Header.Hash() }

// Ballot is a vote; it carries no deploys and copies post-state/bonds from
// its target (spec §4.6 ballot()).
type Ballot struct {
	Header
	Target        common.Hash // the message this ballot votes for
	PostStateHash common.Hash
	Bonds         []Bond
}

func (v *Ballot) IsBlock() bool      { return false }
func (v *Ballot) GetHeader() *Header { return &v.Header }
func (v *Ballot) Hash() common.Hash  { return v.Header.Hash() }

// Deploy is the minimal shape the consensus core needs: enough to validate
// TTLs (§4.2 step 2) and re-queue orphaned deploys (§4.6); full CLType
// payload serialization is an explicit Non-goal.
type Deploy struct {
	Hash         common.Hash
	Account      common.PublicKey
	Timestamp    time.Time
	TTL          time.Duration
	Dependencies []common.Hash
}

// Expired reports whether the deploy's TTL has elapsed as of now.
func (d *Deploy) Expired(now time.Time) bool {
	return now.After(d.Timestamp.Add(d.TTL))
}
