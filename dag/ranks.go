// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package dag

import (
	"context"
	"fmt"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/message"
)

// ComputeRanks derives jRank and mainRank for a message citing parents and
// justifications, per §3's Data Model ("jRank = 1 + max(jRank of any cited
// parent or justification), 0 for Genesis"; "mainRank = 1 + mainRank(main
// parent), 0 for Genesis") and DESIGN.md's Open Question 1 decision (jRank
// takes parents ∪ justifications; mainRank takes only the main parent).
//
// Ranks are never part of the signed payload (message/codec.go): every
// honest recipient recomputes them from the cited hashes instead of
// trusting the creator's claim, which is what testable property 4 (rank
// correctness) checks.
func ComputeRanks(ctx context.Context, view *View, parents []common.Hash, justifications []message.Justification) (jRank, mainRank uint64, err error) {
	if len(parents) == 0 {
		return 0, 0, nil
	}

	var maxCited uint64
	for _, p := range parents {
		m, ok, err := view.Lookup(ctx, p)
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			return 0, 0, fmt.Errorf("dag: compute ranks: missing parent %s", p.Hex())
		}
		if r := m.GetHeader().JRank; r > maxCited {
			maxCited = r
		}
	}
	for _, j := range justifications {
		m, ok, err := view.Lookup(ctx, j.LatestMessage)
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			return 0, 0, fmt.Errorf("dag: compute ranks: missing justification %s", j.LatestMessage.Hex())
		}
		if r := m.GetHeader().JRank; r > maxCited {
			maxCited = r
		}
	}
	jRank = maxCited + 1

	mainParent, ok, err := view.Lookup(ctx, parents[0])
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, fmt.Errorf("dag: compute ranks: missing main parent %s", parents[0].Hex())
	}
	mainRank = mainParent.GetHeader().MainRank + 1
	return jRank, mainRank, nil
}
