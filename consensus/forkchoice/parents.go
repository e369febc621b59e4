// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package forkchoice

import (
	"context"

	"github.com/hwdag/hwnode/common"
)

// SecondaryParents implements §4.5's secondary-parent selection: every tip
// other than mainParent, excluding equivocators' tips, sorted by hash for
// deterministic block construction. enabled lets the producer disable
// secondary parents entirely by configuration, in which case mainParent is
// the block's only parent. Whether the selected tips' effects can be merged
// without conflicts is not checked here.
func (fc *ForkChoice) SecondaryParents(ctx context.Context, mainParent common.Hash, tips []common.Hash, equivocators map[string]bool, enabled bool) ([]common.Hash, error) {
	if !enabled {
		return nil, nil
	}
	out := make([]common.Hash, 0, len(tips))
	for _, tip := range tips {
		if tip == mainParent {
			continue
		}
		m, ok, err := fc.view.Lookup(ctx, tip)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if equivocators[string(m.GetHeader().ValidatorID)] {
			continue
		}
		out = append(out, tip)
	}
	sortHashes(out)
	return out, nil
}

// AllTips collects the bonded validator set's current single-tip hashes,
// deduplicated, for use as SecondaryParents' candidate pool.
func (fc *ForkChoice) AllTips(ctx context.Context, validators []common.PublicKey) ([]common.Hash, error) {
	seen := make(map[common.Hash]bool)
	var out []common.Hash
	for _, v := range validators {
		tips, err := fc.view.LatestMessage(ctx, v)
		if err != nil {
			return nil, err
		}
		if len(tips) != 1 {
			continue
		}
		if !seen[tips[0]] {
			seen[tips[0]] = true
			out = append(out, tips[0])
		}
	}
	return out, nil
}
