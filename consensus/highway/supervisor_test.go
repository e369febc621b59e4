// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package highway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/consensus/forkchoice"
	"github.com/hwdag/hwnode/dag"
	"github.com/hwdag/hwnode/message"
	"github.com/hwdag/hwnode/params"
)

// newTestSpec returns a chain spec whose phase boundaries line up exactly
// with round boundaries at roundExponent, so the gating tests below can
// pick exact round indices for each phase.
func newTestSpec(roundLen uint64) params.HighwaySpec {
	return params.HighwaySpec{
		BookingDurationMillis:      2 * roundLen,
		VotingPeriodDurationMillis: 2 * roundLen,
	}
}

func TestSupervisorFlagsSwitchAndBookingBlocks(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := message.GenerateKey()
	require.NoError(t, err)

	const exponent = 10
	roundLen := RoundLength(exponent)
	era := &dag.Era{
		KeyBlockHash: common.HexToHash("0x10"),
		StartTick:    0,
		EndTick:      roundLen * 10,
		Bonds:        []message.Bond{{Validator: pub, Stake: 100}},
		LeaderSeed:   1,
	}
	spec := newTestSpec(roundLen)

	p, store, exec, engine := newTestProducer(t, pub, priv)
	require.NoError(t, store.PutEra(ctx, era))
	genesis := seedGenesis(t, exec, engine, pub, priv, era.KeyBlockHash)

	fc := forkchoice.New(dag.NewView(store), store)
	tree := NewEraTree(store, era)
	sup := NewSupervisor(tree, p, fc, spec, params.HighwayConfig{InitRoundExponent: exponent}, pub, time.Now())

	// Round 5 is the last round of the active phase (booking starts at
	// round 6): its block must be flagged IsSwitchBlock.
	sup.onLambda(ctx, 5, pub)
	// Round 6 is the first booking-phase round: its block must be flagged
	// IsBookingBlock.
	sup.onLambda(ctx, 6, pub)
	// Round 7 is also booking phase, but booking is already claimed for
	// this era, so its block must NOT be flagged again.
	sup.onLambda(ctx, 7, pub)

	_ = genesis
	tips, err := fc.AllTips(ctx, []common.PublicKey{pub})
	require.NoError(t, err)
	require.Len(t, tips, 1)

	var blocks []*message.Block
	cur := tips[0]
	for i := 0; i < 4; i++ {
		m, ok, err := dag.NewView(store).Lookup(ctx, cur)
		require.NoError(t, err)
		require.True(t, ok)
		b, ok := m.(*message.Block)
		require.True(t, ok)
		blocks = append(blocks, b)
		if len(b.Header.Parents) == 0 {
			break
		}
		cur = b.Header.MainParent()
	}
	require.Len(t, blocks, 4, "expected genesis plus three produced blocks")

	var switchCount, bookingCount int
	for _, b := range blocks {
		if b.IsSwitchBlock {
			switchCount++
		}
		if b.IsBookingBlock {
			bookingCount++
		}
	}
	assert.Equal(t, 1, switchCount, "exactly one switch block")
	assert.Equal(t, 1, bookingCount, "exactly one booking block")
}

func TestSupervisorVotingPhaseProducesBallotNotBlock(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := message.GenerateKey()
	require.NoError(t, err)

	const exponent = 10
	roundLen := RoundLength(exponent)
	era := &dag.Era{
		KeyBlockHash: common.HexToHash("0x11"),
		StartTick:    0,
		EndTick:      roundLen * 10,
		Bonds:        []message.Bond{{Validator: pub, Stake: 100}},
		LeaderSeed:   2,
	}
	spec := newTestSpec(roundLen)

	p, store, exec, engine := newTestProducer(t, pub, priv)
	require.NoError(t, store.PutEra(ctx, era))
	seedGenesis(t, exec, engine, pub, priv, era.KeyBlockHash)

	fc := forkchoice.New(dag.NewView(store), store)
	tree := NewEraTree(store, era)
	sup := NewSupervisor(tree, p, fc, spec, params.HighwayConfig{InitRoundExponent: exponent}, pub, time.Now())

	tipsBefore, err := fc.AllTips(ctx, []common.PublicKey{pub})
	require.NoError(t, err)

	// Round 8 is inside the voting phase (starts at round 8 of 10).
	sup.onLambda(ctx, 8, pub)

	tipsAfter, err := fc.AllTips(ctx, []common.PublicKey{pub})
	require.NoError(t, err)
	require.Len(t, tipsAfter, 1)

	m, ok, err := dag.NewView(store).Lookup(ctx, tipsAfter[0])
	require.NoError(t, err)
	require.True(t, ok)
	_, isBallot := m.(*message.Ballot)
	assert.True(t, isBallot, "voting-phase lambda must produce a ballot, not a block")
	assert.NotEqual(t, tipsBefore, tipsAfter)
}

func TestObserveVotingRoundReachesSummit(t *testing.T) {
	era := &dag.Era{KeyBlockHash: common.HexToHash("0x12")}
	tree := NewEraTree(dag.NewMemStore(), era)
	spec := params.HighwaySpec{VotingPeriodSummitLevel: 3}
	sup := NewSupervisor(tree, nil, nil, spec, params.HighwayConfig{InitRoundExponent: 1}, common.PublicKey{}, time.Now())

	assert.False(t, sup.VotingPeriodComplete())
	sup.observeVotingRound(true)
	assert.False(t, sup.VotingPeriodComplete())
	sup.observeVotingRound(true)
	assert.False(t, sup.VotingPeriodComplete())
	sup.observeVotingRound(false) // resets the streak
	assert.False(t, sup.VotingPeriodComplete())
	sup.observeVotingRound(true)
	sup.observeVotingRound(true)
	sup.observeVotingRound(true)
	assert.True(t, sup.VotingPeriodComplete())
}
