// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package dag

import (
	"context"
	"sync"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/message"
)

// MemStore is the in-memory reference implementation of BlockStorage and
// EraStorage, used by the unit and seed-scenario tests. It satisfies the
// same interfaces as the pebble-backed store so the consensus core is
// agnostic to which is injected.
type MemStore struct {
	mu       sync.RWMutex
	messages map[common.Hash]message.Message
	children map[common.Hash]map[common.Hash]struct{}
	status   map[common.Hash]FinalityStatus
	lfb      common.Hash

	global *swimlaneIndex
	byEra  map[common.Hash]*swimlaneIndex

	eras     map[common.Hash]*Era
	eraKids  map[common.Hash]map[common.Hash]struct{}
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		messages: make(map[common.Hash]message.Message),
		children: make(map[common.Hash]map[common.Hash]struct{}),
		status:   make(map[common.Hash]FinalityStatus),
		global:   newSwimlaneIndex(),
		byEra:    make(map[common.Hash]*swimlaneIndex),
		eras:     make(map[common.Hash]*Era),
		eraKids:  make(map[common.Hash]map[common.Hash]struct{}),
	}
}

func (s *MemStore) eraIndex(eraID common.Hash) *swimlaneIndex {
	idx, ok := s.byEra[eraID]
	if !ok {
		idx = newSwimlaneIndex()
		s.byEra[eraID] = idx
	}
	return idx
}

// PutMessage persists m and updates the children and swimlane indexes.
// Per DAG invariant 1, parents/justifications must already be stored;
// PutMessage does not re-validate that (the executor's parent-validation
// step, §4.2, is responsible for ordering).
func (s *MemStore) PutMessage(ctx context.Context, m message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h := m.Hash()
	s.messages[h] = m
	if _, ok := s.status[h]; !ok {
		s.status[h] = Undecided
	}

	hdr := m.GetHeader()
	for _, p := range hdr.Parents {
		kids, ok := s.children[p]
		if !ok {
			kids = make(map[common.Hash]struct{})
			s.children[p] = kids
		}
		kids[h] = struct{}{}
	}

	s.global.record(hdr.ValidatorID, hdr.ValidatorMsgSeqNum, h, hdr.ValidatorPrevMessageHash)
	if !hdr.EraID.IsZero() {
		s.eraIndex(hdr.EraID).record(hdr.ValidatorID, hdr.ValidatorMsgSeqNum, h, hdr.ValidatorPrevMessageHash)
	}
	return nil
}

func (s *MemStore) GetMessage(ctx context.Context, hash common.Hash) (message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[hash]
	if !ok {
		return nil, notFound(hash)
	}
	return m, nil
}

func (s *MemStore) HasMessage(ctx context.Context, hash common.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.messages[hash]
	return ok, nil
}

func (s *MemStore) Children(ctx context.Context, hash common.Hash) ([]common.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kids := s.children[hash]
	out := make([]common.Hash, 0, len(kids))
	for h := range kids {
		out = append(out, h)
	}
	return out, nil
}

func (s *MemStore) LatestMessage(ctx context.Context, validator common.PublicKey) ([]common.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global.tipsOf(validator), nil
}

func (s *MemStore) LatestInEra(ctx context.Context, validator common.PublicKey, eraID common.Hash) ([]common.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byEra[eraID]
	if !ok {
		return nil, nil
	}
	return idx.tipsOf(validator), nil
}

func (s *MemStore) Equivocators(ctx context.Context) ([]common.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.global.allEquivocators()
	out := make([]common.PublicKey, 0, keys.Cardinality())
	keys.Each(func(k string) bool {
		out = append(out, common.PublicKey(k))
		return false
	})
	return out, nil
}

func (s *MemStore) EquivocatorsInEra(ctx context.Context, eraID common.Hash) ([]common.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byEra[eraID]
	if !ok {
		return nil, nil
	}
	keys := idx.allEquivocators()
	out := make([]common.PublicKey, 0, keys.Cardinality())
	keys.Each(func(k string) bool {
		out = append(out, common.PublicKey(k))
		return false
	})
	return out, nil
}

func (s *MemStore) FinalityStatus(ctx context.Context, hash common.Hash) (FinalityStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.status[hash]
	if !ok {
		return Undecided, notFound(hash)
	}
	return st, nil
}

func (s *MemStore) SetFinalityStatus(ctx context.Context, hash common.Hash, status FinalityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[hash] = status
	return nil
}

func (s *MemStore) LastFinalizedBlock(ctx context.Context) (common.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lfb, nil
}

func (s *MemStore) SetLastFinalizedBlock(ctx context.Context, hash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lfb = hash
	return nil
}

func (s *MemStore) AllHashes(ctx context.Context) ([]common.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Hash, 0, len(s.messages))
	for h := range s.messages {
		out = append(out, h)
	}
	return out, nil
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) PutEra(ctx context.Context, era *Era) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eras[era.KeyBlockHash] = era
	if !era.ParentKeyBlockHash.IsZero() {
		kids, ok := s.eraKids[era.ParentKeyBlockHash]
		if !ok {
			kids = make(map[common.Hash]struct{})
			s.eraKids[era.ParentKeyBlockHash] = kids
		}
		kids[era.KeyBlockHash] = struct{}{}
	}
	return nil
}

func (s *MemStore) GetEra(ctx context.Context, keyBlockHash common.Hash) (*Era, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	era, ok := s.eras[keyBlockHash]
	if !ok {
		return nil, notFound(keyBlockHash)
	}
	return era, nil
}

func (s *MemStore) ChildEras(ctx context.Context, keyBlockHash common.Hash) ([]common.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kids := s.eraKids[keyBlockHash]
	out := make([]common.Hash, 0, len(kids))
	for h := range kids {
		out = append(out, h)
	}
	return out, nil
}
