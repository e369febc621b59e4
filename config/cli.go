// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/params"
)

// Flags enumerates every CLI-tunable configuration key of spec §6. Genesis-
// era timings live in the chain spec instead (see ChainSpecPathFlag).
var (
	FaultToleranceThresholdFlag = &cli.Float64Flag{Name: "fault-tolerance-threshold", Usage: "target rFTT used by the finality detector", Value: 0.1}
	RequiredSigsFlag            = &cli.IntFlag{Name: "required-sigs", Usage: "genesis approvals required before joining", Value: 1}

	MinDeployTTLFlag      = &cli.DurationFlag{Name: "min-deploy-ttl", Usage: "minimum deploy time-to-live", Value: 30 * time.Minute}
	MaxBlockSizeBytesFlag = &cli.Uint64Flag{Name: "max-block-size-bytes", Usage: "maximum serialized block size", Value: 10 * 1024 * 1024}

	DownloadMaxRetriesFlag          = &cli.IntFlag{Name: "download-max-retries", Value: 3}
	DownloadRetryInitialBackoffFlag = &cli.DurationFlag{Name: "download-retry-initial-backoff", Value: 500 * time.Millisecond}
	DownloadRetryBackoffFactorFlag  = &cli.Float64Flag{Name: "download-retry-backoff-factor", Value: 2.0}

	RelayFactorFlag     = &cli.IntFlag{Name: "relay-factor", Value: 3}
	RelaySaturationFlag = &cli.Float64Flag{Name: "relay-saturation", Value: 0.9}

	InitSyncMaxNodesFlag        = &cli.IntFlag{Name: "init-sync-max-nodes", Value: 5}
	InitSyncMinSuccessfulFlag   = &cli.IntFlag{Name: "init-sync-min-successful", Value: 3}
	InitSyncStepFlag            = &cli.IntFlag{Name: "init-sync-step", Value: 100}
	InitSyncRoundPeriodFlag     = &cli.DurationFlag{Name: "init-sync-round-period", Value: 5 * time.Second}
	PeriodicSyncRoundPeriodFlag = &cli.DurationFlag{Name: "periodic-sync-round-period", Value: 30 * time.Second}

	SyncMaxPossibleDepthFlag          = &cli.Uint64Flag{Name: "sync-max-possible-depth", Value: 1000}
	SyncMaxBondingRateFlag            = &cli.Float64Flag{Name: "sync-max-bonding-rate", Value: 0.1}
	SyncMinBlockCountToCheckWidthFlag = &cli.Uint64Flag{Name: "sync-min-block-count-to-check-width", Value: 20}
	SyncMaxDepthAncestorsRequestFlag  = &cli.Uint64Flag{Name: "sync-max-depth-ancestors-request", Value: 50}

	HighwayInitRoundExponentFlag     = &cli.Uint64Flag{Name: "highway.init-round-exponent", Value: 14}
	HighwayOmegaMessageTimeStartFlag = &cli.Float64Flag{Name: "highway.omega-message-time-start", Value: 0.5}
	HighwayOmegaMessageTimeEndFlag   = &cli.Float64Flag{Name: "highway.omega-message-time-end", Value: 1.0}

	ValidatorPublicKeyFlag  = &cli.StringFlag{Name: "validator.public-key", Usage: "hex-encoded validator public key"}
	ValidatorPrivateKeyFlag = &cli.StringFlag{Name: "validator.private-key", Usage: "hex-encoded validator private key"}

	ChainSpecPathFlag = &cli.StringFlag{Name: "chain-spec", Usage: "path to the TOML chain spec", Required: true}

	// DataDirFlag is not one of §6's enumerated keys (storage backend choice
	// is out of scope there) but every persistent BlockStorage/EraStorage
	// implementation needs a directory to open, so it is carried as ambient
	// infrastructure alongside the spec's own keys.
	DataDirFlag = &cli.StringFlag{Name: "datadir", Usage: "data directory for block/era storage", Value: "./hwnode-data"}
)

// Flags is the full flag set a cmd/hwnode-style binary registers on its
// *cli.App.
var Flags = []cli.Flag{
	FaultToleranceThresholdFlag,
	RequiredSigsFlag,
	MinDeployTTLFlag,
	MaxBlockSizeBytesFlag,
	DownloadMaxRetriesFlag,
	DownloadRetryInitialBackoffFlag,
	DownloadRetryBackoffFactorFlag,
	RelayFactorFlag,
	RelaySaturationFlag,
	InitSyncMaxNodesFlag,
	InitSyncMinSuccessfulFlag,
	InitSyncStepFlag,
	InitSyncRoundPeriodFlag,
	PeriodicSyncRoundPeriodFlag,
	SyncMaxPossibleDepthFlag,
	SyncMaxBondingRateFlag,
	SyncMinBlockCountToCheckWidthFlag,
	SyncMaxDepthAncestorsRequestFlag,
	HighwayInitRoundExponentFlag,
	HighwayOmegaMessageTimeStartFlag,
	HighwayOmegaMessageTimeEndFlag,
	ValidatorPublicKeyFlag,
	ValidatorPrivateKeyFlag,
	ChainSpecPathFlag,
	DataDirFlag,
}

// FromContext builds a params.NodeConfig from a populated *cli.Context,
// parsing the validator's hex-encoded key pair.
func FromContext(c *cli.Context) (*params.NodeConfig, error) {
	pub, err := decodeHexFlag(c.String(ValidatorPublicKeyFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", ValidatorPublicKeyFlag.Name, err)
	}
	priv, err := decodeHexFlag(c.String(ValidatorPrivateKeyFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", ValidatorPrivateKeyFlag.Name, err)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("config: %s must be a %d-byte ed25519 private key, got %d bytes", ValidatorPrivateKeyFlag.Name, ed25519.PrivateKeySize, len(priv))
	}

	return &params.NodeConfig{
		FaultToleranceThreshold:       c.Float64(FaultToleranceThresholdFlag.Name),
		RequiredSigs:                  c.Int(RequiredSigsFlag.Name),
		MinDeployTTL:                  c.Duration(MinDeployTTLFlag.Name),
		MaxBlockSizeBytes:             c.Uint64(MaxBlockSizeBytesFlag.Name),
		DownloadMaxRetries:            c.Int(DownloadMaxRetriesFlag.Name),
		DownloadRetryInitialBackoff:   c.Duration(DownloadRetryInitialBackoffFlag.Name),
		DownloadRetryBackoffFactor:    c.Float64(DownloadRetryBackoffFactorFlag.Name),
		RelayFactor:                   c.Int(RelayFactorFlag.Name),
		RelaySaturation:               c.Float64(RelaySaturationFlag.Name),
		InitSyncMaxNodes:              c.Int(InitSyncMaxNodesFlag.Name),
		InitSyncMinSuccessful:         c.Int(InitSyncMinSuccessfulFlag.Name),
		InitSyncStep:                  c.Int(InitSyncStepFlag.Name),
		InitSyncRoundPeriod:           c.Duration(InitSyncRoundPeriodFlag.Name),
		PeriodicSyncRoundPeriod:       c.Duration(PeriodicSyncRoundPeriodFlag.Name),
		SyncMaxPossibleDepth:          c.Uint64(SyncMaxPossibleDepthFlag.Name),
		SyncMaxBondingRate:            c.Float64(SyncMaxBondingRateFlag.Name),
		SyncMinBlockCountToCheckWidth: c.Uint64(SyncMinBlockCountToCheckWidthFlag.Name),
		SyncMaxDepthAncestorsRequest:  c.Uint64(SyncMaxDepthAncestorsRequestFlag.Name),
		Highway: params.HighwayConfig{
			InitRoundExponent:     uint8(c.Uint64(HighwayInitRoundExponentFlag.Name)),
			OmegaMessageTimeStart: c.Float64(HighwayOmegaMessageTimeStartFlag.Name),
			OmegaMessageTimeEnd:   c.Float64(HighwayOmegaMessageTimeEndFlag.Name),
		},
		Validator: params.ValidatorConfig{
			PublicKey:          common.PublicKey(pub),
			PrivateKey:         priv,
			SignatureAlgorithm: common.Ed25519,
		},
		ChainSpecPath: c.String(ChainSpecPathFlag.Name),
		DataDirPath:   c.String(DataDirFlag.Name),
	}, nil
}

func decodeHexFlag(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return nil, fmt.Errorf("must be set")
	}
	return hex.DecodeString(s)
}
