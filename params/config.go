// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

// Package params holds the node's runtime configuration (§6) and the
// chain-spec values that are not CLI-tunable (genesis-era timings).
package params

import (
	"time"

	"github.com/hwdag/hwnode/common"
)

// NodeConfig enumerates the configuration keys of spec §6. Keys are grouped
// by the subsystem they affect; the comment on each documents that effect.
type NodeConfig struct {
	// Finality
	FaultToleranceThreshold float64 // rFTT target used by consensus/finality
	RequiredSigs            int     // genesis approvals required before joining

	// Deploys (mempool collaborator tuning only; intake itself is out of scope)
	MinDeployTTL    time.Duration
	MaxBlockSizeBytes uint64

	// Download / sync retry policy
	DownloadMaxRetries         int
	DownloadRetryInitialBackoff time.Duration
	DownloadRetryBackoffFactor float64

	// Gossip relay
	RelayFactor    int
	RelaySaturation float64

	// Initial sync
	InitSyncMaxNodes       int
	InitSyncMinSuccessful  int
	InitSyncStep           int
	InitSyncRoundPeriod    time.Duration
	PeriodicSyncRoundPeriod time.Duration

	// Sync depth bounds
	SyncMaxPossibleDepth           uint64
	SyncMaxBondingRate             float64
	SyncMinBlockCountToCheckWidth  uint64
	SyncMaxDepthAncestorsRequest   uint64

	// Highway
	Highway HighwayConfig

	// Validator identity
	Validator ValidatorConfig

	// Path to the TOML chain-spec file (era timings, genesis bonds)
	ChainSpecPath string

	// DataDirPath is where the persistent block/era stores are opened; not
	// one of §6's enumerated keys (storage backend choice is out of scope
	// there), carried as ambient infrastructure.
	DataDirPath string
}

// HighwayConfig holds the highway.* keys from §6.
type HighwayConfig struct {
	InitRoundExponent   uint8
	OmegaMessageTimeStart float64 // fraction of round length, e.g. 0.5
	OmegaMessageTimeEnd   float64 // fraction of round length, e.g. 1.0
}

// ValidatorConfig holds the validator.* keys from §6.
type ValidatorConfig struct {
	PublicKey          common.PublicKey
	PrivateKey          []byte
	SignatureAlgorithm common.SignatureAlgorithm
}

// Default returns a NodeConfig with the same defaults the teacher's own
// main.go hard-codes for finality/timing knobs, adapted to this spec's keys.
func Default() *NodeConfig {
	return &NodeConfig{
		FaultToleranceThreshold:     0.1,
		RequiredSigs:                1,
		MinDeployTTL:                30 * time.Minute,
		MaxBlockSizeBytes:           10 * 1024 * 1024,
		DownloadMaxRetries:          3,
		DownloadRetryInitialBackoff: 500 * time.Millisecond,
		DownloadRetryBackoffFactor:  2.0,
		RelayFactor:                 3,
		RelaySaturation:             0.9,
		InitSyncMaxNodes:            5,
		InitSyncMinSuccessful:       3,
		InitSyncStep:                100,
		InitSyncRoundPeriod:         5 * time.Second,
		PeriodicSyncRoundPeriod:     30 * time.Second,
		SyncMaxPossibleDepth:        1000,
		SyncMaxBondingRate:          0.1,
		SyncMinBlockCountToCheckWidth: 20,
		SyncMaxDepthAncestorsRequest: 50,
		Highway: HighwayConfig{
			InitRoundExponent:     14, // 2^14 ticks (ticks are ms, ~16.4s rounds)
			OmegaMessageTimeStart: 0.5,
			OmegaMessageTimeEnd:   1.0,
		},
	}
}
