// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package dag

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hwdag/hwnode/common"
)

// validatorKey turns a PublicKey into a comparable map key. PublicKey is a
// byte slice (not comparable); Go's compiler specializes string-keyed map
// lookups from a []byte without an extra allocation, so this costs nothing
// in the hot swimlane path.
func validatorKey(v common.PublicKey) string { return string(v) }

// swimlaneIndex is the append-only (validatorId, seqNum) -> hash structure
// §9 calls out, plus its secondary validatorId -> tips set. record reports
// whether the message takes a (validator, seqNum) slot already held by a
// different hash; it also marks the validator as an equivocator whenever
// the validator ends up with more than one tip.
type swimlaneIndex struct {
	mu       sync.RWMutex
	bySeqNum map[string]map[uint64]common.Hash // validatorKey -> seqNum -> hash
	tips     map[string]mapset.Set[common.Hash]
	equivocators mapset.Set[string]
}

func newSwimlaneIndex() *swimlaneIndex {
	return &swimlaneIndex{
		bySeqNum:     make(map[string]map[uint64]common.Hash),
		tips:         make(map[string]mapset.Set[common.Hash]),
		equivocators: mapset.NewThreadUnsafeSet[string](),
	}
}

// checkEquivocation reports whether admitting a message from validator with
// the given seqNum and prevHash would be an equivocation, per §4.3: "Let T
// be the set of V's current tips... If T is empty -> not an equivocation.
// If |T|=1 and the new message's validatorPrevMessageHash equals that tip's
// hash -> not an equivocation. Otherwise -> equivocation."
func (s *swimlaneIndex) checkEquivocation(validator common.PublicKey, prevHash common.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := validatorKey(validator)
	tips, ok := s.tips[key]
	if !ok || tips.Cardinality() == 0 {
		return false
	}
	if tips.Cardinality() == 1 {
		var only common.Hash
		tips.Each(func(h common.Hash) bool { only = h; return true })
		return only != prevHash
	}
	return true
}

// record stores the (validator, seqNum) -> hash mapping and updates tips,
// returning whether two distinct hashes now occupy the same seqNum slot
// (the alternate equivocation definition of DAG invariant 2).
func (s *swimlaneIndex) record(validator common.PublicKey, seqNum uint64, hash, prevHash common.Hash) (sameSeqNumConflict bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := validatorKey(validator)

	bySeq, ok := s.bySeqNum[key]
	if !ok {
		bySeq = make(map[uint64]common.Hash)
		s.bySeqNum[key] = bySeq
	}
	if existing, ok := bySeq[seqNum]; ok && existing != hash {
		sameSeqNumConflict = true
		s.equivocators.Add(key)
	}
	bySeq[seqNum] = hash

	tips, ok := s.tips[key]
	if !ok {
		tips = mapset.NewThreadUnsafeSet[common.Hash]()
		s.tips[key] = tips
	}
	if !prevHash.IsZero() || seqNum > 0 {
		tips.Remove(prevHash)
	}
	tips.Add(hash)
	if tips.Cardinality() > 1 {
		s.equivocators.Add(key)
	}
	return sameSeqNumConflict
}

func (s *swimlaneIndex) tipsOf(validator common.PublicKey) []common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tips, ok := s.tips[validatorKey(validator)]
	if !ok {
		return nil
	}
	return tips.ToSlice()
}

func (s *swimlaneIndex) isEquivocator(validator common.PublicKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.equivocators.Contains(validatorKey(validator))
}

func (s *swimlaneIndex) allEquivocators() mapset.Set[string] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.equivocators.Clone()
}
