// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

// Package execengine defines the execution-engine collaborator boundary of
// §6: the consensus core calls it but does not implement it. The Wasm/EVM
// execution semantics themselves are out of scope (spec §1 Non-goals).
package execengine

import (
	"context"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/message"
)

// StoredValue is an opaque value read from global state at a path under a
// state root, per §6's query() signature.
type StoredValue []byte

// DeployResult is one deploy's outcome from an Exec call: the transform it
// produced, its cost, and whether it errored (errored deploys still
// consume cost and still commit their transform, mirroring real VM
// semantics where a failed deploy is not a no-op).
type DeployResult struct {
	DeployHash common.Hash
	Transform  map[string][]byte
	Cost       uint64
	Errored    bool
}

// Engine is the execution-engine collaborator interface of §6: query,
// commit, exec. Implementations are expected to be safe for concurrent use
// only within the bounds the executor's permit (§5.1) already provides;
// the interface itself makes no concurrency guarantee.
type Engine interface {
	// Query reads a StoredValue at path under stateHash.
	Query(ctx context.Context, stateHash common.Hash, key common.Hash, path []string, protocolVersion uint32) (StoredValue, error)

	// Commit applies effects on top of prestate and returns the resulting
	// post-state hash and bonds snapshot.
	Commit(ctx context.Context, prestate common.Hash, effects map[string][]byte, protocolVersion uint32) (postStateHash common.Hash, bonds []message.Bond, err error)

	// Exec executes deploys against prestate at blocktime, returning one
	// DeployResult per deploy in order.
	Exec(ctx context.Context, prestate common.Hash, blocktime int64, deploys []*message.Deploy, protocolVersion uint32) ([]DeployResult, error)
}
