// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

// Package config assembles a params.NodeConfig from CLI flags and loads
// the chain spec (genesis-era timings and bonds) the CLI only names a path
// to (§6, last paragraph: "come from the chain spec, not CLI").
package config

import (
	"fmt"
	"os"

	"github.com/naoina/toml"

	"github.com/hwdag/hwnode/params"
)

// LoadChainSpec reads and decodes the TOML chain spec at path.
func LoadChainSpec(path string) (*params.ChainSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read chain spec %s: %w", path, err)
	}
	var spec params.ChainSpec
	if err := toml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("config: parse chain spec %s: %w", path, err)
	}
	if spec.Highway.EraDurationMillis == 0 {
		return nil, fmt.Errorf("config: chain spec %s missing highway.era_duration_millis", path)
	}
	if len(spec.Genesis.Bonds) == 0 {
		return nil, fmt.Errorf("config: chain spec %s has no genesis bonds", path)
	}
	return &spec, nil
}
