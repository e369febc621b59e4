// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

// Package equivocation implements the Equivocation Detector of §4.3: the
// pre-store tip check run on every incoming message, and the BFS-from-
// justifications visible-equivocator computation used by the finality
// detector's panorama construction.
package equivocation

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/dag"
	"github.com/hwdag/hwnode/message"
)

// Detector answers equivocation questions against a dag.View.
type Detector struct {
	view  *dag.View
	store dag.BlockStorage
}

// New returns a Detector reading from view/store.
func New(view *dag.View, store dag.BlockStorage) *Detector {
	return &Detector{view: view, store: store}
}

// CheckTip is the pre-store check of §4.3: "Let T be the set of V's
// current tips... If T is empty -> not an equivocation. If |T|=1 and the
// new message's validatorPrevMessageHash equals that tip's hash -> not an
// equivocation. Otherwise -> equivocation."
//
// T is the validator's global tips when m's EraID is zero, and its tips
// within m's era otherwise (highway mode scopes equivocation checks to the
// era).
func (d *Detector) CheckTip(ctx context.Context, m message.Message) (bool, error) {
	hdr := m.GetHeader()
	var tips []common.Hash
	var err error
	if hdr.EraID.IsZero() {
		tips, err = d.store.LatestMessage(ctx, hdr.ValidatorID)
	} else {
		tips, err = d.store.LatestInEra(ctx, hdr.ValidatorID, hdr.EraID)
	}
	if err != nil {
		return false, err
	}
	switch len(tips) {
	case 0:
		return false, nil
	case 1:
		return tips[0] != hdr.ValidatorPrevMessageHash, nil
	default:
		return true, nil
	}
}

// seqKey identifies a (validator, seqNum) swimlane slot.
type seqKey struct {
	validator string
	seqNum    uint64
}

// VisibleEquivocators implements §4.3's "visible from a justification set":
// given the justification set of a message (or any validator -> latest-seen
// map), return the validators that appear equivocating in the j-past cone
// of those messages.
//
// knownEquivocatorRanks holds one jRank per equivocating validator already
// recorded globally (used to compute minBaseRank, and to let traversal stop
// early once as many equivocators as it has entries have been seen in the
// cone).
func (d *Detector) VisibleEquivocators(
	ctx context.Context,
	justifications map[string]common.Hash,
	knownEquivocatorRanks []uint64,
) (mapset.Set[string], error) {
	minBaseRank := minBaseRankOf(knownEquivocatorRanks)

	seen := make(map[seqKey]common.Hash)
	equivocating := mapset.NewThreadUnsafeSet[string]()
	visited := mapset.NewThreadUnsafeSet[common.Hash]()

	// Frontier is processed in jRank-descending order so we can stop once
	// we cross minBaseRank, per §4.3's stated traversal order.
	type frontierItem struct {
		hash  common.Hash
		jRank uint64
	}
	var frontier []frontierItem
	for _, h := range justifications {
		m, ok, err := d.view.Lookup(ctx, h)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		frontier = append(frontier, frontierItem{hash: h, jRank: m.GetHeader().JRank})
	}

	allKnown := knownEquivocatorsSet(knownEquivocatorRanks)

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Pop the highest-jRank item.
		maxIdx := 0
		for i := 1; i < len(frontier); i++ {
			if frontier[i].jRank > frontier[maxIdx].jRank {
				maxIdx = i
			}
		}
		cur := frontier[maxIdx]
		frontier = append(frontier[:maxIdx], frontier[maxIdx+1:]...)

		if visited.Contains(cur.hash) {
			continue
		}
		visited.Add(cur.hash)

		if cur.jRank < minBaseRank {
			continue
		}
		if allKnown > 0 && equivocating.Cardinality() >= allKnown {
			break
		}

		m, ok, err := d.view.Lookup(ctx, cur.hash)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		hdr := m.GetHeader()
		key := seqKey{validator: string(hdr.ValidatorID), seqNum: hdr.ValidatorMsgSeqNum}
		if prior, ok := seen[key]; ok && prior != cur.hash {
			equivocating.Add(string(hdr.ValidatorID))
		} else {
			seen[key] = cur.hash
		}

		for _, p := range hdr.Parents {
			pm, ok, err := d.view.Lookup(ctx, p)
			if err != nil {
				return nil, err
			}
			if ok && !visited.Contains(p) {
				frontier = append(frontier, frontierItem{hash: p, jRank: pm.GetHeader().JRank})
			}
		}
		for _, j := range hdr.Justifications {
			jm, ok, err := d.view.Lookup(ctx, j.LatestMessage)
			if err != nil {
				return nil, err
			}
			if ok && !visited.Contains(j.LatestMessage) {
				frontier = append(frontier, frontierItem{hash: j.LatestMessage, jRank: jm.GetHeader().JRank})
			}
		}
	}
	return equivocating, nil
}

// minBaseRankOf returns one less than the minimum rank among known
// equivocating tips, or 0 if there are none (traverse the whole cone).
func minBaseRankOf(ranks []uint64) uint64 {
	if len(ranks) == 0 {
		return 0
	}
	min := ranks[0]
	for _, r := range ranks[1:] {
		if r < min {
			min = r
		}
	}
	if min == 0 {
		return 0
	}
	return min - 1
}

func knownEquivocatorsSet(ranks []uint64) int { return len(ranks) }
