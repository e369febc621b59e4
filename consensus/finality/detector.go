// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package finality

import (
	"context"
	"errors"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/consensus/equivocation"
	"github.com/hwdag/hwnode/dag"
	"github.com/hwdag/hwnode/message"
)

// Summary exposes a read-only finality status snapshot, the internal
// status-reporting accessor this package supplements the spec with (not a
// metrics reporter, which stays out of scope).
type Summary struct {
	LastFinalizedBlock common.Hash
	Candidates         int
	JustifiedVoters    int
}

// BondedSet resolves the validator set and stakes a candidate's matrix is
// built over. In classical mode this is the genesis bonds; in highway mode
// it is the era's bonds (the Detector is handed a fresh BondedSet whenever
// the last finalized block crosses into a new era).
type BondedSet struct {
	Validators []common.PublicKey
	Weights    []common.Stake
}

// Detector is the Finality Detector of §4.4: it keeps one Matrix per
// fork-choice candidate that is a direct child of the current last
// finalized block, and runs the indirect-finalization/orphan-marking
// traversals whenever a committee commits a new one.
type Detector struct {
	view  *dag.View
	store dag.BlockStorage
	equiv *equivocation.Detector

	rFTT float64
	lfb  common.Hash
	// stopHash bounds the orphan-traversal era scope per DESIGN.md's Open
	// Question 3 decision. SetStopHash sets it (to an era's key block);
	// while it is zero, traversal is unbounded (global). Nothing in this
	// module calls SetStopHash, so the wired node runs unbounded.
	stopHash common.Hash

	bonds     BondedSet
	matrices  map[common.Hash]*Matrix
}

// New returns a Detector seeded at lfb with the given bonded validator set
// and fault-tolerance threshold. equiv supplies the §4.3 visible-equivocator
// computation the panorama exclusion set is scoped by.
func New(view *dag.View, store dag.BlockStorage, equiv *equivocation.Detector, lfb common.Hash, bonds BondedSet, rFTT float64) *Detector {
	return &Detector{
		view:     view,
		store:    store,
		equiv:    equiv,
		rFTT:     rFTT,
		lfb:      lfb,
		bonds:    bonds,
		matrices: make(map[common.Hash]*Matrix),
	}
}

// SetStopHash configures the era-bounding stop hash for orphan traversal
// (highway mode only; classical mode leaves it at the zero hash).
func (d *Detector) SetStopHash(h common.Hash) { d.stopHash = h }

// equivocatorSet implements §4.3's "visible from a justification set":
// the globally-known equivocating validators (and their ranks, for
// VisibleEquivocators' early-exit bound) narrowed down to the subset msg's
// own justification set can actually see in its j-past cone, per §4.4's
// panorama step ("the cells for equivocating validators ... are forced to
// 0"), rather than excluding every globally-known equivocator uniformly
// regardless of whether this particular message's cone has observed them.
func (d *Detector) equivocatorSet(ctx context.Context, msg message.Message) (map[string]bool, error) {
	var known []common.PublicKey
	var err error
	if d.stopHash.IsZero() {
		known, err = d.store.Equivocators(ctx)
	} else {
		known, err = d.store.EquivocatorsInEra(ctx, d.stopHash)
	}
	if err != nil {
		return nil, err
	}
	if len(known) == 0 {
		return nil, nil
	}

	ranks := make([]uint64, 0, len(known))
	for _, v := range known {
		tips, err := d.store.LatestMessage(ctx, v)
		if err != nil {
			return nil, err
		}
		// One rank per equivocating validator (its lowest-jRank tip), so
		// VisibleEquivocators can count validators for its early exit.
		found := false
		var lowest uint64
		for _, h := range tips {
			m, ok, err := d.view.Lookup(ctx, h)
			if err != nil {
				return nil, err
			}
			if ok && (!found || m.GetHeader().JRank < lowest) {
				lowest, found = m.GetHeader().JRank, true
			}
		}
		if found {
			ranks = append(ranks, lowest)
		}
	}

	justifications := make(map[string]common.Hash, len(msg.GetHeader().Justifications))
	for _, j := range msg.GetHeader().Justifications {
		justifications[string(j.Validator)] = j.LatestMessage
	}
	visible, err := d.equiv.VisibleEquivocators(ctx, justifications, ranks)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, visible.Cardinality())
	for v := range visible.Iter() {
		out[v] = true
	}
	return out, nil
}

func (d *Detector) matrixFor(candidate common.Hash) *Matrix {
	m, ok := d.matrices[candidate]
	if !ok {
		m = NewMatrix(candidate, d.bonds.Validators, d.bonds.Weights)
		d.matrices[candidate] = m
	}
	return m
}

// OnNewMessage feeds a newly-persisted latest message into the detector,
// per §4.4's Update algorithm, and runs the committee check for the branch
// it votes. If a committee commits, the candidate becomes the new LFB and
// the detector rebuilds itself around it, also returning the newly
// finalized (FinalizedIndirectly) and orphaned hashes so the caller (the
// executor, §4.2 step 9) can persist and emit them.
func (d *Detector) OnNewMessage(ctx context.Context, msg message.Message) (newLFB *common.Hash, finalized []common.Hash, orphaned []common.Hash, err error) {
	branch, ok, err := votedBranch(ctx, d.view, msg, d.lfb)
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok {
		return nil, nil, nil, nil
	}

	equivocators, err := d.equivocatorSet(ctx, msg)
	if err != nil {
		return nil, nil, nil, err
	}

	mtx := d.matrixFor(branch)
	if err := mtx.Update(ctx, d.view, d.lfb, msg, equivocators); err != nil {
		return nil, nil, nil, err
	}

	_, committed := mtx.CommitteeCheck(d.rFTT)
	if !committed {
		return nil, nil, nil, nil
	}

	if err := d.store.SetFinalityStatus(ctx, branch, dag.FinalizedDirectly); err != nil {
		return nil, nil, nil, err
	}
	if err := d.store.SetLastFinalizedBlock(ctx, branch); err != nil {
		return nil, nil, nil, err
	}

	finalized, err = d.markIndirectlyFinalized(ctx, branch)
	if err != nil {
		return nil, nil, nil, err
	}
	orphaned, err = d.markOrphaned(ctx, branch, finalized)
	if err != nil {
		return nil, nil, nil, err
	}

	d.lfb = branch
	d.matrices = make(map[common.Hash]*Matrix)

	newLFB = &branch
	return newLFB, finalized, orphaned, nil
}

// markIndirectlyFinalized implements §4.4's indirect finalization: "every
// ancestor of L' that is a block (not a ballot) and not already finalized
// becomes FinalizedIndirectly. Traversal: BFS back from L' following
// parent edges, stopping at blocks already marked finalized."
func (d *Detector) markIndirectlyFinalized(ctx context.Context, lfb common.Hash) ([]common.Hash, error) {
	var finalized []common.Hash
	queue := []common.Hash{lfb}
	visited := map[common.Hash]bool{lfb: true}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h := queue[0]
		queue = queue[1:]

		m, ok, err := d.view.Lookup(ctx, h)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		hdr := m.GetHeader()
		for _, p := range hdr.Parents {
			if visited[p] {
				continue
			}
			visited[p] = true

			status, err := d.store.FinalityStatus(ctx, p)
			if err != nil && !isNotFound(err) {
				return nil, err
			}
			if status.Terminal() || p == d.lfb {
				continue // already finalized (or orphaned), or the previous LFB: stop this branch
			}
			if !d.stopHash.IsZero() && p == d.stopHash {
				continue
			}
			pm, ok, err := d.view.Lookup(ctx, p)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if pm.IsBlock() && p != lfb {
				if err := d.store.SetFinalityStatus(ctx, p, dag.FinalizedIndirectly); err != nil {
					return nil, err
				}
				finalized = append(finalized, p)
			}
			queue = append(queue, p)
		}
	}
	return finalized, nil
}

// markOrphaned implements §4.4's orphan marking: "every undecided block in
// the j-past cone of L' that is not an ancestor of L' is marked Orphaned:
// BFS back from L' following parents ∪ justifications, exclude the set of
// just-finalized hashes and L' itself, keep undecided blocks only."
func (d *Detector) markOrphaned(ctx context.Context, lfb common.Hash, justFinalized []common.Hash) ([]common.Hash, error) {
	finalizedSet := make(map[common.Hash]bool, len(justFinalized)+1)
	finalizedSet[lfb] = true
	finalizedSet[d.lfb] = true // the previous LFB is an ancestor of L', never orphaned
	for _, h := range justFinalized {
		finalizedSet[h] = true
	}

	var orphaned []common.Hash
	queue := []common.Hash{lfb}
	visited := map[common.Hash]bool{lfb: true}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h := queue[0]
		queue = queue[1:]

		m, ok, err := d.view.Lookup(ctx, h)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		hdr := m.GetHeader()

		var refs []common.Hash
		refs = append(refs, hdr.Parents...)
		for _, j := range hdr.Justifications {
			refs = append(refs, j.LatestMessage)
		}

		for _, r := range refs {
			if visited[r] {
				continue
			}
			visited[r] = true
			if !d.stopHash.IsZero() && r == d.stopHash {
				continue
			}

			rm, ok, err := d.view.Lookup(ctx, r)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if rm.IsBlock() && !finalizedSet[r] {
				status, err := d.store.FinalityStatus(ctx, r)
				if err != nil && !isNotFound(err) {
					return nil, err
				}
				if status == dag.Undecided {
					if err := d.store.SetFinalityStatus(ctx, r, dag.Orphaned); err != nil {
						return nil, err
					}
					orphaned = append(orphaned, r)
				}
			}
			queue = append(queue, r)
		}
	}
	return orphaned, nil
}

// Summarize returns the read-only status snapshot described in
// SPEC_FULL.md §3.6's supplement.
func (d *Detector) Summarize() Summary {
	voters := 0
	for _, mtx := range d.matrices {
		for _, v := range mtx.firstLevelZeroVotes {
			if v.Set {
				voters++
			}
		}
	}
	return Summary{LastFinalizedBlock: d.lfb, Candidates: len(d.matrices), JustifiedVoters: voters}
}

func isNotFound(err error) bool { return errors.Is(err, dag.ErrNotFound) }
