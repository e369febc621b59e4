// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package execengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/message"
)

// InMemory is a deliberately minimal reference Engine for tests: global
// state is a flat key-value map per state root, transforms are applied by
// straight key overwrite (no CLType merge semantics), and every deploy
// succeeds unless its account key is explicitly marked to fail.
type InMemory struct {
	mu       sync.Mutex
	states   map[common.Hash]map[string][]byte
	bonds    map[common.Hash][]message.Bond
	failures map[string]bool
}

// NewInMemory returns an Engine seeded with genesisState at common.Hash{}
// (the pre-genesis root) and genesisBonds.
func NewInMemory(genesisState map[string][]byte, genesisBonds []message.Bond) *InMemory {
	root := common.Hash{}
	seeded := make(map[string][]byte, len(genesisState))
	for k, v := range genesisState {
		seeded[k] = v
	}
	return &InMemory{
		states:   map[common.Hash]map[string][]byte{root: seeded},
		bonds:    map[common.Hash][]message.Bond{root: genesisBonds},
		failures: make(map[string]bool),
	}
}

// FailAccount makes every deploy signed by account error on Exec, for
// exercising §4.2 step 5's "per-deploy cost and error flag".
func (e *InMemory) FailAccount(account common.PublicKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[string(account)] = true
}

func (e *InMemory) Query(ctx context.Context, stateHash common.Hash, key common.Hash, path []string, protocolVersion uint32) (StoredValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.states[stateHash]
	if !ok {
		return nil, fmt.Errorf("execengine: unknown state root %s", stateHash.Hex())
	}
	v, ok := state[stateKey(key, path)]
	if !ok {
		return nil, nil
	}
	return StoredValue(v), nil
}

// Commit applies effects on top of prestate and returns a freshly derived
// state root (the Blake2b-256 hash of the new state's canonical encoding,
// reusing message.ContentHash so the root is itself content-addressed).
func (e *InMemory) Commit(ctx context.Context, prestate common.Hash, effects map[string][]byte, protocolVersion uint32) (common.Hash, []message.Bond, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	base, ok := e.states[prestate]
	if !ok {
		return common.Hash{}, nil, fmt.Errorf("execengine: unknown prestate %s", prestate.Hex())
	}
	next := make(map[string][]byte, len(base)+len(effects))
	for k, v := range base {
		next[k] = v
	}
	for k, v := range effects {
		next[k] = v
	}

	root := message.ContentHash(canonicalEncode(next))
	e.states[root] = next
	bonds := e.bonds[prestate]
	e.bonds[root] = bonds
	return root, bonds, nil
}

func (e *InMemory) Exec(ctx context.Context, prestate common.Hash, blocktime int64, deploys []*message.Deploy, protocolVersion uint32) ([]DeployResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.states[prestate]; !ok {
		return nil, fmt.Errorf("execengine: unknown prestate %s", prestate.Hex())
	}

	results := make([]DeployResult, 0, len(deploys))
	for _, d := range deploys {
		errored := e.failures[string(d.Account)]
		transform := map[string][]byte{
			stateKey(d.Hash, nil): d.Hash.Bytes(),
		}
		results = append(results, DeployResult{
			DeployHash: d.Hash,
			Transform:  transform,
			Cost:       1,
			Errored:    errored,
		})
	}
	return results, nil
}

func stateKey(key common.Hash, path []string) string {
	s := key.Hex()
	for _, p := range path {
		s += "/" + p
	}
	return s
}

// canonicalEncode produces a deterministic byte encoding of a state map by
// sorting keys, sufficient for a test double's content-addressed roots
// (not a general CLType serializer, which is an explicit Non-goal).
func canonicalEncode(state map[string][]byte) []byte {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sortStrings(keys)
	var buf []byte
	for _, k := range keys {
		buf = append(buf, []byte(k)...)
		buf = append(buf, 0)
		buf = append(buf, state[k]...)
		buf = append(buf, 0)
	}
	return buf
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
