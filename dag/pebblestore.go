// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package dag

import (
	"context"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"
	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/message"
)

// Key prefixes partition the single pebble keyspace into the logical
// tables a relational store would give separate tables.
const (
	prefixMessage  = 'm'
	prefixChildren = 'c'
	prefixStatus   = 's'
	prefixLFB      = 'l'
)

// PebbleStore is the persistent BlockStorage backed by cockroachdb/pebble.
// It demonstrates how the façade of §6 is wired to real storage; the
// swimlane/tip index (§9) is kept in memory and rebuilt from the message
// log on Open, since it is a derived index rather than a primary one.
type PebbleStore struct {
	db     *pebble.DB
	global *swimlaneIndex
	byEra  map[common.Hash]*swimlaneIndex
}

// OpenPebbleStore opens (creating if absent) a pebble database at dir and
// replays its message log to rebuild the in-memory swimlane index.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("dag: open pebble store: %w", err)
	}
	s := &PebbleStore{
		db:     db,
		global: newSwimlaneIndex(),
		byEra:  make(map[common.Hash]*swimlaneIndex),
	}
	if err := s.rebuildSwimlanes(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) rebuildSwimlanes() error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{prefixMessage},
		UpperBound: []byte{prefixMessage + 1},
	})
	if err != nil {
		return fmt.Errorf("dag: iterate messages: %w", err)
	}
	defer iter.Close()
	var msgs []message.Message
	for iter.First(); iter.Valid(); iter.Next() {
		m, err := decodeMessage(iter.Value())
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	if err := iter.Error(); err != nil {
		return err
	}
	// Replay in seqNum order so each message's predecessor is recorded
	// before it, as when the messages were first stored (keys are hashes).
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].GetHeader().ValidatorMsgSeqNum < msgs[j].GetHeader().ValidatorMsgSeqNum
	})
	for _, m := range msgs {
		hdr := m.GetHeader()
		s.global.record(hdr.ValidatorID, hdr.ValidatorMsgSeqNum, m.Hash(), hdr.ValidatorPrevMessageHash)
		if !hdr.EraID.IsZero() {
			s.eraIndex(hdr.EraID).record(hdr.ValidatorID, hdr.ValidatorMsgSeqNum, m.Hash(), hdr.ValidatorPrevMessageHash)
		}
	}
	return nil
}

func (s *PebbleStore) eraIndex(eraID common.Hash) *swimlaneIndex {
	idx, ok := s.byEra[eraID]
	if !ok {
		idx = newSwimlaneIndex()
		s.byEra[eraID] = idx
	}
	return idx
}

func messageKey(hash common.Hash) []byte {
	k := make([]byte, 0, 1+common.HashLength)
	k = append(k, prefixMessage)
	return append(k, hash.Bytes()...)
}

func childrenKey(hash common.Hash, child common.Hash) []byte {
	k := make([]byte, 0, 1+2*common.HashLength)
	k = append(k, prefixChildren)
	k = append(k, hash.Bytes()...)
	return append(k, child.Bytes()...)
}

func statusKey(hash common.Hash) []byte {
	k := make([]byte, 0, 1+common.HashLength)
	k = append(k, prefixStatus)
	return append(k, hash.Bytes()...)
}

func (s *PebbleStore) PutMessage(ctx context.Context, m message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeMessage(m)
	if err != nil {
		return err
	}
	h := m.Hash()
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(messageKey(h), data, nil); err != nil {
		return err
	}
	if _, closer, err := s.db.Get(statusKey(h)); err == pebble.ErrNotFound {
		if err := batch.Set(statusKey(h), []byte{byte(Undecided)}, nil); err != nil {
			return err
		}
	} else if err == nil {
		closer.Close()
	} else {
		return err
	}
	hdr := m.GetHeader()
	for _, p := range hdr.Parents {
		if err := batch.Set(childrenKey(p, h), nil, nil); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("dag: commit message %s: %w", h.Hex(), err)
	}

	s.global.record(hdr.ValidatorID, hdr.ValidatorMsgSeqNum, h, hdr.ValidatorPrevMessageHash)
	if !hdr.EraID.IsZero() {
		s.eraIndex(hdr.EraID).record(hdr.ValidatorID, hdr.ValidatorMsgSeqNum, h, hdr.ValidatorPrevMessageHash)
	}
	return nil
}

func (s *PebbleStore) GetMessage(ctx context.Context, hash common.Hash) (message.Message, error) {
	val, closer, err := s.db.Get(messageKey(hash))
	if err == pebble.ErrNotFound {
		return nil, notFound(hash)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return decodeMessage(val)
}

func (s *PebbleStore) HasMessage(ctx context.Context, hash common.Hash) (bool, error) {
	_, closer, err := s.db.Get(messageKey(hash))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *PebbleStore) Children(ctx context.Context, hash common.Hash) ([]common.Hash, error) {
	prefix := append([]byte{prefixChildren}, hash.Bytes()...)
	upper := append(append([]byte{}, prefix...), 0xff)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []common.Hash
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		out = append(out, common.BytesToHash(key[len(prefix):]))
	}
	return out, iter.Error()
}

func (s *PebbleStore) LatestMessage(ctx context.Context, validator common.PublicKey) ([]common.Hash, error) {
	return s.global.tipsOf(validator), nil
}

func (s *PebbleStore) LatestInEra(ctx context.Context, validator common.PublicKey, eraID common.Hash) ([]common.Hash, error) {
	idx, ok := s.byEra[eraID]
	if !ok {
		return nil, nil
	}
	return idx.tipsOf(validator), nil
}

func (s *PebbleStore) Equivocators(ctx context.Context) ([]common.PublicKey, error) {
	keys := s.global.allEquivocators()
	out := make([]common.PublicKey, 0, keys.Cardinality())
	keys.Each(func(k string) bool { out = append(out, common.PublicKey(k)); return false })
	return out, nil
}

func (s *PebbleStore) EquivocatorsInEra(ctx context.Context, eraID common.Hash) ([]common.PublicKey, error) {
	idx, ok := s.byEra[eraID]
	if !ok {
		return nil, nil
	}
	keys := idx.allEquivocators()
	out := make([]common.PublicKey, 0, keys.Cardinality())
	keys.Each(func(k string) bool { out = append(out, common.PublicKey(k)); return false })
	return out, nil
}

func (s *PebbleStore) FinalityStatus(ctx context.Context, hash common.Hash) (FinalityStatus, error) {
	val, closer, err := s.db.Get(statusKey(hash))
	if err == pebble.ErrNotFound {
		return Undecided, notFound(hash)
	}
	if err != nil {
		return Undecided, err
	}
	defer closer.Close()
	return FinalityStatus(val[0]), nil
}

func (s *PebbleStore) SetFinalityStatus(ctx context.Context, hash common.Hash, status FinalityStatus) error {
	return s.db.Set(statusKey(hash), []byte{byte(status)}, pebble.Sync)
}

func (s *PebbleStore) LastFinalizedBlock(ctx context.Context) (common.Hash, error) {
	val, closer, err := s.db.Get([]byte{prefixLFB})
	if err == pebble.ErrNotFound {
		return common.Hash{}, nil
	}
	if err != nil {
		return common.Hash{}, err
	}
	defer closer.Close()
	return common.BytesToHash(val), nil
}

func (s *PebbleStore) SetLastFinalizedBlock(ctx context.Context, hash common.Hash) error {
	return s.db.Set([]byte{prefixLFB}, hash.Bytes(), pebble.Sync)
}

func (s *PebbleStore) AllHashes(ctx context.Context) ([]common.Hash, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{prefixMessage},
		UpperBound: []byte{prefixMessage + 1},
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []common.Hash
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, common.BytesToHash(iter.Key()[1:]))
	}
	return out, iter.Error()
}

func (s *PebbleStore) Close() error { return s.db.Close() }
