// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package params

import "time"

// ChainSpec holds the genesis-era timings that come from the chain spec
// rather than the CLI (spec §6, last paragraph).
type ChainSpec struct {
	Genesis GenesisConfig `toml:"genesis"`
	Highway HighwaySpec   `toml:"highway"`
}

// GenesisConfig names the genesis-era validator bonds and starting time.
type GenesisConfig struct {
	Timestamp time.Time         `toml:"timestamp"`
	Bonds     map[string]uint64 `toml:"bonds"` // hex validator id -> stake
}

// HighwaySpec holds the era-timing constants from §6.
type HighwaySpec struct {
	EraDurationMillis          uint64 `toml:"era_duration_millis"`
	BookingDurationMillis      uint64 `toml:"booking_duration_millis"`
	EntropyDurationMillis      uint64 `toml:"entropy_duration_millis"`
	VotingPeriodDurationMillis uint64 `toml:"voting_period_duration_millis"`
	VotingPeriodSummitLevel    uint8  `toml:"voting_period_summit_level"`
}

func (s HighwaySpec) EraDuration() time.Duration {
	return time.Duration(s.EraDurationMillis) * time.Millisecond
}

func (s HighwaySpec) BookingDuration() time.Duration {
	return time.Duration(s.BookingDurationMillis) * time.Millisecond
}

func (s HighwaySpec) EntropyDuration() time.Duration {
	return time.Duration(s.EntropyDurationMillis) * time.Millisecond
}

func (s HighwaySpec) VotingPeriodDuration() time.Duration {
	return time.Duration(s.VotingPeriodDurationMillis) * time.Millisecond
}
