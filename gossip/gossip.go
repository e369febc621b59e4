// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

// Package gossip defines the peer-network collaborator boundary of §6.
// Networking, peer discovery and wire transport are out of scope (spec §1
// Non-goals); only the shape the consensus core calls against is named
// here.
package gossip

import (
	"context"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/message"
)

// BlockSummary is the lightweight block descriptor returned by
// GetBlockSummary, enough for the downloader to decide whether to fetch
// the full body.
type BlockSummary struct {
	Hash     common.Hash
	JRank    uint64
	Parents  []common.Hash
	EraID    common.Hash
}

// LatestMessageEntry pairs a validator with the hash of its current tip,
// as returned by LatestMessages.
type LatestMessageEntry struct {
	Validator common.PublicKey
	Hash      common.Hash
}

// Peer is the gossip collaborator interface of §6.
type Peer interface {
	HasBlock(ctx context.Context, hash common.Hash) (bool, error)
	GetBlockSummary(ctx context.Context, hash common.Hash) (BlockSummary, error)
	GetBlock(ctx context.Context, hash common.Hash, excludeBodies bool) (message.Message, error)
	GetDeploys(ctx context.Context, hashes []common.Hash) (<-chan *message.Deploy, error)
	LatestMessages(ctx context.Context) ([]LatestMessageEntry, error)
	DAGTopoSort(ctx context.Context, startRank, endRank uint64) (<-chan BlockSummary, error)
}
