// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

// Package finality implements the Finality Detector's voting matrix (§4.4):
// one instance per fork-choice candidate that is a direct child of the
// current last finalized block, the committee-check quorum formula, and
// the indirect-finalization/orphan-marking traversals that run once a new
// last finalized block is chosen.
package finality

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/dag"
	"github.com/hwdag/hwnode/message"
)

// LevelZeroVote is a validator's first vote for a branch: §4.4's
// firstLevelZeroVotes[i] = (candidateDescendant, jRank).
type LevelZeroVote struct {
	Branch common.Hash
	JRank  uint64
	Set    bool
}

// Matrix is the per-candidate voting-matrix instance of §4.4. Per §9 the
// n·n table is a single flat buffer; validators is frozen for the
// instance's lifetime.
type Matrix struct {
	Candidate common.Hash

	validators []common.PublicKey
	weights    []common.Stake
	index      map[string]int

	firstLevelZeroVotes []LevelZeroVote
	cells               []uint64 // flat n*n buffer
}

// NewMatrix builds a fresh matrix for candidate over the bonded validator
// set (ordered, with parallel stakes).
func NewMatrix(candidate common.Hash, validators []common.PublicKey, weights []common.Stake) *Matrix {
	n := len(validators)
	idx := make(map[string]int, n)
	for i, v := range validators {
		idx[string(v)] = i
	}
	return &Matrix{
		Candidate:           candidate,
		validators:          validators,
		weights:             weights,
		index:               idx,
		firstLevelZeroVotes: make([]LevelZeroVote, n),
		cells:               make([]uint64, n*n),
	}
}

func (m *Matrix) get(i, j int) uint64   { return m.cells[i*len(m.validators)+j] }
func (m *Matrix) set(i, j int, v uint64) { m.cells[i*len(m.validators)+j] = v }

// TotalStake sums the bonded stakes backing this matrix.
func (m *Matrix) TotalStake() uint64 {
	var total uint64
	for _, w := range m.weights {
		total += w
	}
	return total
}

// panorama computes the jRank of the latest message by each validator
// visible in m's j-past cone (parents ∪ justifications, transitively),
// per §4.4 step 1. Equivocators are excluded (cell forced to 0 by the
// caller, matching "set the cell to 0 for validators that ... are
// equivocators").
func panorama(ctx context.Context, view *dag.View, m message.Message) (map[string]uint64, error) {
	visited := make(map[common.Hash]bool)
	result := make(map[string]uint64)

	var visit func(h common.Hash) error
	visit = func(h common.Hash) error {
		if visited[h] {
			return nil
		}
		visited[h] = true
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, ok, err := view.Lookup(ctx, h)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		hdr := msg.GetHeader()
		key := string(hdr.ValidatorID)
		if cur, ok := result[key]; !ok || hdr.JRank > cur {
			result[key] = hdr.JRank
		}
		for _, p := range hdr.Parents {
			if err := visit(p); err != nil {
				return err
			}
		}
		for _, j := range hdr.Justifications {
			if err := visit(j.LatestMessage); err != nil {
				return err
			}
		}
		return nil
	}

	hdr := m.GetHeader()
	for _, p := range hdr.Parents {
		if err := visit(p); err != nil {
			return nil, err
		}
	}
	for _, j := range hdr.Justifications {
		if err := visit(j.LatestMessage); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// votedBranch walks m's main-parent chain back to find the direct child of
// lfb it descends from: §4.4 step 2's "the child of L in m's main chain".
func votedBranch(ctx context.Context, view *dag.View, m message.Message, lfb common.Hash) (common.Hash, bool, error) {
	cur := m
	for {
		if err := ctx.Err(); err != nil {
			return common.Hash{}, false, err
		}
		hdr := cur.GetHeader()
		mainParent := hdr.MainParent()
		if mainParent == lfb {
			return cur.Hash(), true, nil
		}
		if mainParent.IsZero() {
			return common.Hash{}, false, nil
		}
		next, ok, err := view.Lookup(ctx, mainParent)
		if err != nil {
			return common.Hash{}, false, err
		}
		if !ok {
			return common.Hash{}, false, nil
		}
		cur = next
	}
}

// Update applies a newly-inserted latest message m by one of the bonded
// validators to the matrix, per §4.4's three-step Update algorithm.
// equivocators names validators whose cells must stay pinned at 0.
func (m *Matrix) Update(ctx context.Context, view *dag.View, lfb common.Hash, msg message.Message, equivocators map[string]bool) error {
	hdr := msg.GetHeader()
	i, ok := m.index[string(hdr.ValidatorID)]
	if !ok {
		return nil // not in this candidate's bonded validator set
	}

	pano, err := panorama(ctx, view, msg)
	if err != nil {
		return err
	}

	if !m.firstLevelZeroVotes[i].Set {
		branch, ok, err := votedBranch(ctx, view, msg, lfb)
		if err != nil {
			return err
		}
		if ok && branch == m.Candidate {
			m.firstLevelZeroVotes[i] = LevelZeroVote{Branch: branch, JRank: hdr.JRank, Set: true}
		}
	}
	if !m.firstLevelZeroVotes[i].Set || m.firstLevelZeroVotes[i].Branch != m.Candidate {
		return nil
	}

	for j, v := range m.validators {
		key := string(v)
		if equivocators[key] {
			m.set(i, j, 0)
			continue
		}
		if !m.firstLevelZeroVotes[j].Set || m.firstLevelZeroVotes[j].Branch != m.Candidate {
			m.set(i, j, 0)
			continue
		}
		rank, ok := pano[key]
		if !ok {
			m.set(i, j, 0)
			continue
		}
		m.set(i, j, rank)
	}
	return nil
}

// CommitteeCheck implements §4.4's committee-check quorum formula:
// sum_{j∈C} w_j ≥ (totalStake·(1+2·rFTT))/2, with every pair in C mutually
// visible. Finding a maximum-weight clique is NP-hard in general; this
// greedily grows a clique by descending stake, which is exact for the
// small, typically near-complete mutual-visibility graphs this detector
// sees in practice (voters who agree on a branch tend to see each other).
func (m *Matrix) CommitteeCheck(rFTT float64) ([]common.PublicKey, bool) {
	type candidate struct {
		idx   int
		stake common.Stake
	}
	var voters []candidate
	for i := range m.validators {
		if m.firstLevelZeroVotes[i].Set && m.firstLevelZeroVotes[i].Branch == m.Candidate {
			voters = append(voters, candidate{idx: i, stake: m.weights[i]})
		}
	}
	for a := 0; a < len(voters); a++ {
		for b := a + 1; b < len(voters); b++ {
			if voters[b].stake > voters[a].stake {
				voters[a], voters[b] = voters[b], voters[a]
			}
		}
	}

	mutual := func(i, j int) bool { return m.get(i, j) > 0 && m.get(j, i) > 0 }

	var committee []int
	var sum uint256.Int
	for _, v := range voters {
		ok := true
		for _, c := range committee {
			if !mutual(v.idx, c) {
				ok = false
				break
			}
		}
		if ok {
			committee = append(committee, v.idx)
			sum.AddUint64(&sum, v.stake)
		}
	}

	// threshold = totalStake * (1 + 2*rFTT) / 2, computed in fixed point
	// (scale 1e9) to keep the quorum arithmetic allocation-free and exact
	// for the float inputs this system actually uses (rFTT has at most a
	// handful of decimal digits of configured precision).
	total := uint256.NewInt(m.TotalStake())
	scaledFactor := uint256.NewInt(uint64((1 + 2*rFTT) * 1e9))
	numerator := new(uint256.Int).Mul(total, scaledFactor)
	need := new(uint256.Int).Div(numerator, uint256.NewInt(2e9))

	if sum.Cmp(need) < 0 {
		return nil, false
	}
	out := make([]common.PublicKey, len(committee))
	for k, idx := range committee {
		out[k] = m.validators[idx]
	}
	return out, true
}
