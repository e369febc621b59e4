// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

// Package forkchoice implements the main-parent selection and secondary-
// parent selection of §4.5: greatest-honest-weight-subtree fork choice
// restricted to a stop hash, and hash-sorted secondary parent selection.
// Secondary parent selection does not check whether the selected tips'
// effects can be merged without conflicts.
package forkchoice

import (
	"context"
	"sort"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/dag"
	"github.com/hwdag/hwnode/message"
)

// ForkChoice picks a main parent by walking from a stop hash (Genesis or
// the current era's key block) towards the tip that the bonded, non-
// equivocating validator set has put the most stake behind.
type ForkChoice struct {
	view  *dag.View
	store dag.BlockStorage
}

// New returns a ForkChoice reading from view/store.
func New(view *dag.View, store dag.BlockStorage) *ForkChoice {
	return &ForkChoice{view: view, store: store}
}

// Choice implements §4.5's greatest-honest-weight-subtree walk: starting at
// stopHash, repeatedly step to the child carrying the most bonded stake in
// its subtree (excluding equivocators' votes), until a childless block, or
// a block none of whose children carries any stake, is reached. Calling Choice twice against the same stored state returns the
// same result (testable property 6, fork-choice idempotence), since the
// walk is a pure function of the DAG view and the bonded set.
func (fc *ForkChoice) Choice(ctx context.Context, stopHash common.Hash, bonds []message.Bond) (common.Hash, error) {
	equivocators, err := fc.equivocatorSet(ctx, stopHash)
	if err != nil {
		return common.Hash{}, err
	}
	latest, err := fc.latestHonestTips(ctx, bonds, equivocators)
	if err != nil {
		return common.Hash{}, err
	}
	stakeByValidator := make(map[string]common.Stake, len(bonds))
	for _, b := range bonds {
		if !equivocators[string(b.Validator)] {
			stakeByValidator[string(b.Validator)] = b.Stake
		}
	}

	cur := stopHash
	for {
		if err := ctx.Err(); err != nil {
			return common.Hash{}, err
		}
		children, err := fc.view.Children(ctx, cur)
		if err != nil {
			return common.Hash{}, err
		}
		if len(children) == 0 {
			return cur, nil
		}

		var best common.Hash
		var bestWeight common.Stake
		found := false
		for _, child := range children {
			w, err := fc.subtreeWeight(ctx, child, latest, stakeByValidator)
			if err != nil {
				return common.Hash{}, err
			}
			if w == 0 {
				continue
			}
			if !found || w > bestWeight || (w == bestWeight && child.Less(best)) {
				best, bestWeight, found = child, w, true
			}
		}
		if !found {
			return cur, nil
		}
		cur = best
	}
}

// subtreeWeight sums the stake of every validator whose latest honest tip
// has root as an ancestor (root included), matching §4.5's "greatest
// honest weight subtree": a validator's vote propagates to every ancestor
// of its latest message, not just the message itself.
func (fc *ForkChoice) subtreeWeight(ctx context.Context, root common.Hash, latest map[string]common.Hash, stakeByValidator map[string]common.Stake) (common.Stake, error) {
	var total common.Stake
	for validator, tip := range latest {
		stake, bonded := stakeByValidator[validator]
		if !bonded {
			continue
		}
		isDescendant, err := fc.isAncestorOf(ctx, root, tip)
		if err != nil {
			return 0, err
		}
		if isDescendant {
			total += stake
		}
	}
	return total, nil
}

// isAncestorOf reports whether ancestor lies on tip's parents ancestry
// (tip included), walked breadth-first via Lookup with a visited set so
// each message is expanded at most once.
func (fc *ForkChoice) isAncestorOf(ctx context.Context, ancestor, tip common.Hash) (bool, error) {
	visited := make(map[common.Hash]bool)
	queue := []common.Hash{tip}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		h := queue[0]
		queue = queue[1:]
		if h == ancestor {
			return true, nil
		}
		if visited[h] {
			continue
		}
		visited[h] = true
		m, ok, err := fc.view.Lookup(ctx, h)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		queue = append(queue, m.GetHeader().Parents...)
	}
	return false, nil
}

// latestHonestTips returns each bonded, non-equivocating validator's
// current single tip (equivocators and validators with no tip yet are
// excluded, per §4.3's "tips with cardinality > 1" disqualifying a vote).
func (fc *ForkChoice) latestHonestTips(ctx context.Context, bonds []message.Bond, equivocators map[string]bool) (map[string]common.Hash, error) {
	out := make(map[string]common.Hash, len(bonds))
	for _, b := range bonds {
		key := string(b.Validator)
		if equivocators[key] {
			continue
		}
		tips, err := fc.view.LatestMessage(ctx, b.Validator)
		if err != nil {
			return nil, err
		}
		if len(tips) != 1 {
			continue
		}
		out[key] = tips[0]
	}
	return out, nil
}

func (fc *ForkChoice) equivocatorSet(ctx context.Context, stopHash common.Hash) (map[string]bool, error) {
	var equivocators []common.PublicKey
	var err error
	if stopHash.IsZero() {
		equivocators, err = fc.view.Equivocators(ctx)
	} else {
		equivocators, err = fc.view.EquivocatorsInEra(ctx, stopHash)
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(equivocators))
	for _, v := range equivocators {
		out[string(v)] = true
	}
	return out, nil
}

// sortHashes is a small helper shared with parents.go for deterministic
// secondary-parent ordering.
func sortHashes(hashes []common.Hash) {
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Less(hashes[j]) })
}
