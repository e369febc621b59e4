// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

// Package dag implements the DAG View (§4.1) over a content-addressed,
// append-only message store, and the storage façade named in §6: block
// storage and era storage are external collaborators accessed only through
// the BlockStorage/EraStorage interfaces below, with an in-memory reference
// implementation and two persistence-backed ones (pebble, goleveldb).
package dag

import (
	"context"
	"errors"
	"fmt"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/message"
)

// ErrNotFound is returned by storage lookups that find nothing.
var ErrNotFound = errors.New("dag: not found")

// FinalityStatus is a block's place in the lifecycle of §3: created
// Undecided, transitions to exactly one terminal state.
type FinalityStatus uint8

const (
	Undecided FinalityStatus = iota
	FinalizedDirectly
	FinalizedIndirectly
	Orphaned
)

func (s FinalityStatus) String() string {
	switch s {
	case Undecided:
		return "undecided"
	case FinalizedDirectly:
		return "finalized-directly"
	case FinalizedIndirectly:
		return "finalized-indirectly"
	case Orphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of the three states a block settles
// into exactly once (§3: "transitions to one terminal state exactly once").
func (s FinalityStatus) Terminal() bool { return s != Undecided }

// Era is the highway-mode time interval keyed by its key block (§3).
type Era struct {
	KeyBlockHash       common.Hash
	ParentKeyBlockHash common.Hash
	BookingBlockHash   common.Hash
	StartTick          uint64
	EndTick            uint64
	Bonds              []message.Bond
	LeaderSeed         uint64
}

// BlockStorage is the block/DAG persistence façade of §6: "block put/get by
// hash, by prefix, by deploy-hash index; DAG lookup, children, latest-
// message by validator (global or per era), topo-sort stream, finality
// status get/set". The deploy-hash index and prefix lookups are left to the
// mempool collaborator (out of scope); this interface covers what the
// consensus core itself reads and writes.
type BlockStorage interface {
	// PutMessage persists m. Per DAG invariant 1, callers must already have
	// persisted every hash in m.Parents and every Justification before
	// calling PutMessage, and PutMessage itself updates the children index
	// and swimlane index atomically with the message body.
	PutMessage(ctx context.Context, m message.Message) error
	GetMessage(ctx context.Context, hash common.Hash) (message.Message, error)
	HasMessage(ctx context.Context, hash common.Hash) (bool, error)
	Children(ctx context.Context, hash common.Hash) ([]common.Hash, error)

	// LatestMessage returns validator's current tip set (§4.1: "size 1
	// normally; ≥2 if V has equivocated and none of its equivocations
	// dominate").
	LatestMessage(ctx context.Context, validator common.PublicKey) ([]common.Hash, error)
	LatestInEra(ctx context.Context, validator common.PublicKey, eraID common.Hash) ([]common.Hash, error)

	Equivocators(ctx context.Context) ([]common.PublicKey, error)
	EquivocatorsInEra(ctx context.Context, eraID common.Hash) ([]common.PublicKey, error)

	FinalityStatus(ctx context.Context, hash common.Hash) (FinalityStatus, error)
	SetFinalityStatus(ctx context.Context, hash common.Hash, status FinalityStatus) error

	LastFinalizedBlock(ctx context.Context) (common.Hash, error)
	SetLastFinalizedBlock(ctx context.Context, hash common.Hash) error

	// AllHashes returns every stored message hash, topologically unordered.
	// Used by TopoSort implementations that need a full scan.
	AllHashes(ctx context.Context) ([]common.Hash, error)

	Close() error
}

// EraStorage is the era index façade of §6: "era add/get/children".
type EraStorage interface {
	PutEra(ctx context.Context, era *Era) error
	GetEra(ctx context.Context, keyBlockHash common.Hash) (*Era, error)
	ChildEras(ctx context.Context, keyBlockHash common.Hash) ([]common.Hash, error)
	Close() error
}

func notFound(hash common.Hash) error {
	return fmt.Errorf("%w: %s", ErrNotFound, hash.Hex())
}
