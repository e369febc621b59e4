// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package dag

import (
	"context"
	"errors"
	"sort"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/message"
)

// View exposes the read operations of §4.1 over a BlockStorage. Reads are
// serializable snapshots with respect to any single call; Children is
// eventually consistent with a concurrent PutMessage but is guaranteed
// consistent once the inserting call has returned, per §4.1's guarantee.
type View struct {
	store BlockStorage
}

// NewView wraps store as a View.
func NewView(store BlockStorage) *View { return &View{store: store} }

func (v *View) Lookup(ctx context.Context, hash common.Hash) (message.Message, bool, error) {
	m, err := v.store.GetMessage(ctx, hash)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return m, true, nil
}

func (v *View) Contains(ctx context.Context, hash common.Hash) (bool, error) {
	return v.store.HasMessage(ctx, hash)
}

func (v *View) Children(ctx context.Context, hash common.Hash) ([]common.Hash, error) {
	return v.store.Children(ctx, hash)
}

func (v *View) LatestMessage(ctx context.Context, validator common.PublicKey) ([]common.Hash, error) {
	return v.store.LatestMessage(ctx, validator)
}

func (v *View) LatestInEra(ctx context.Context, validator common.PublicKey, eraID common.Hash) ([]common.Hash, error) {
	return v.store.LatestInEra(ctx, validator, eraID)
}

func (v *View) Equivocators(ctx context.Context) ([]common.PublicKey, error) {
	return v.store.Equivocators(ctx)
}

func (v *View) EquivocatorsInEra(ctx context.Context, eraID common.Hash) ([]common.PublicKey, error) {
	return v.store.EquivocatorsInEra(ctx, eraID)
}

func (v *View) FinalityStatus(ctx context.Context, hash common.Hash) (FinalityStatus, error) {
	return v.store.FinalityStatus(ctx, hash)
}

// TopoIterator streams messages in jRank order (§4.1 topoSort), checking
// cancellation on every step per §9's "suspension-heavy traversals ...
// implement them so each step either yields or checks cancellation".
type TopoIterator struct {
	items []message.Message
	pos   int
}

// Next advances the iterator. ok is false (with a nil error) once the
// stream is exhausted; a non-nil error means ctx was cancelled.
func (it *TopoIterator) Next(ctx context.Context) (m message.Message, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if it.pos >= len(it.items) {
		return nil, false, nil
	}
	m = it.items[it.pos]
	it.pos++
	return m, true, nil
}

// TopoSort streams messages with jRank in [startRank, endRank) in
// ascending jRank order, breaking ties by hash for determinism.
func (v *View) TopoSort(ctx context.Context, startRank, endRank uint64) (*TopoIterator, error) {
	hashes, err := v.store.AllHashes(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]message.Message, 0, len(hashes))
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := v.store.GetMessage(ctx, h)
		if err != nil {
			return nil, err
		}
		rank := m.GetHeader().JRank
		if rank >= startRank && rank < endRank {
			items = append(items, m)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		hi, hj := items[i].GetHeader(), items[j].GetHeader()
		if hi.JRank != hj.JRank {
			return hi.JRank < hj.JRank
		}
		return items[i].Hash().Less(items[j].Hash())
	})
	return &TopoIterator{items: items}, nil
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
