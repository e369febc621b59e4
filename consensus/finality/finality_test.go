// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package finality

import (
	"context"
	"testing"
	"time"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/consensus/equivocation"
	"github.com/hwdag/hwnode/dag"
	"github.com/hwdag/hwnode/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS1TwoValidatorAgreement(t *testing.T) {
	ctx := context.Background()
	store := dag.NewMemStore()
	view := dag.NewView(store)

	v1, priv1, err := message.GenerateKey()
	require.NoError(t, err)
	v2, priv2, err := message.GenerateKey()
	require.NoError(t, err)

	genesis := &message.Block{Header: message.Header{Timestamp: time.Now().UTC()}}
	_, err = message.Sign(genesis, priv1)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, genesis))
	g := genesis.Hash()

	mkBlock := func(pub common.PublicKey, sign func(message.Message), seqNum uint64, parents []common.Hash) *message.Block {
		jRank, mainRank, err := dag.ComputeRanks(ctx, view, parents, nil)
		require.NoError(t, err)
		b := &message.Block{Header: message.Header{
			ValidatorID:        pub,
			ValidatorMsgSeqNum: seqNum,
			Parents:            parents,
			Timestamp:          time.Now().UTC(),
			JRank:              jRank,
			MainRank:           mainRank,
		}}
		sign(b)
		require.NoError(t, store.PutMessage(ctx, b))
		return b
	}
	sign1 := func(m message.Message) { _, err := message.Sign(m, priv1); require.NoError(t, err) }
	sign2 := func(m message.Message) { _, err := message.Sign(m, priv2); require.NoError(t, err) }

	b1 := mkBlock(v1, sign1, 0, []common.Hash{g})
	b2 := mkBlock(v2, sign2, 0, []common.Hash{g})
	b3 := mkBlock(v1, sign1, 1, []common.Hash{b1.Hash(), b2.Hash()})
	b4 := mkBlock(v2, sign2, 1, []common.Hash{b3.Hash(), b2.Hash()})
	b5 := mkBlock(v1, sign1, 2, []common.Hash{b4.Hash()})

	bonds := BondedSet{Validators: []common.PublicKey{v1, v2}, Weights: []common.Stake{10, 10}}
	equiv := equivocation.New(view, store)
	detector := New(view, store, equiv, g, bonds, 0.1)

	for _, m := range []*message.Block{b1, b2, b3, b4} {
		_, _, _, err := detector.OnNewMessage(ctx, m)
		require.NoError(t, err)
	}
	newLFB, finalized, orphaned, err := detector.OnNewMessage(ctx, b5)
	require.NoError(t, err)
	require.NotNil(t, newLFB)
	assert.Equal(t, b1.Hash(), *newLFB)
	assert.Empty(t, finalized)
	assert.Empty(t, orphaned)
}

func TestS4IndirectFinalization(t *testing.T) {
	ctx := context.Background()
	store := dag.NewMemStore()
	view := dag.NewView(store)

	v1, priv1, err := message.GenerateKey()
	require.NoError(t, err)
	v2, priv2, err := message.GenerateKey()
	require.NoError(t, err)

	genesis := &message.Block{Header: message.Header{Timestamp: time.Now().UTC()}}
	_, err = message.Sign(genesis, priv1)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, genesis))
	g := genesis.Hash()

	mkBlock := func(pub common.PublicKey, sign func(message.Message), seqNum uint64, parents []common.Hash) *message.Block {
		jRank, mainRank, err := dag.ComputeRanks(ctx, view, parents, nil)
		require.NoError(t, err)
		b := &message.Block{Header: message.Header{
			ValidatorID:        pub,
			ValidatorMsgSeqNum: seqNum,
			Parents:            parents,
			Timestamp:          time.Now().UTC(),
			JRank:              jRank,
			MainRank:           mainRank,
		}}
		sign(b)
		require.NoError(t, store.PutMessage(ctx, b))
		return b
	}
	sign1 := func(m message.Message) { _, err := message.Sign(m, priv1); require.NoError(t, err) }
	sign2 := func(m message.Message) { _, err := message.Sign(m, priv2); require.NoError(t, err) }

	b1 := mkBlock(v1, sign1, 0, []common.Hash{g})
	b2 := mkBlock(v2, sign2, 0, []common.Hash{b1.Hash()})

	bonds := BondedSet{Validators: []common.PublicKey{v1, v2}, Weights: []common.Stake{10, 10}}
	equiv := equivocation.New(view, store)
	detector := New(view, store, equiv, g, bonds, 0.1)

	_, _, _, err = detector.OnNewMessage(ctx, b1)
	require.NoError(t, err)
	_, _, _, err = detector.OnNewMessage(ctx, b2)
	require.NoError(t, err)

	status1, err := store.FinalityStatus(ctx, b1.Hash())
	require.NoError(t, err)
	assert.Equal(t, dag.Undecided, status1, "a single validator's vote on b1 cannot reach quorum alone")

	finalized, err := detector.markIndirectlyFinalized(ctx, b2.Hash())
	require.NoError(t, err)
	assert.Contains(t, finalized, b1.Hash(), "b1 is an ancestor of b2 and becomes finalized indirectly once b2 is")
}

func TestS5OrphanMarking(t *testing.T) {
	ctx := context.Background()
	store := dag.NewMemStore()
	view := dag.NewView(store)

	v1, priv1, err := message.GenerateKey()
	require.NoError(t, err)

	genesis := &message.Block{Header: message.Header{Timestamp: time.Now().UTC()}}
	_, err = message.Sign(genesis, priv1)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, genesis))
	g := genesis.Hash()

	mkBlock := func(seqNum uint64, parents []common.Hash, justs ...message.Justification) *message.Block {
		jRank, mainRank, err := dag.ComputeRanks(ctx, view, parents, justs)
		require.NoError(t, err)
		b := &message.Block{Header: message.Header{
			ValidatorID:        v1,
			ValidatorMsgSeqNum: seqNum,
			Parents:            parents,
			Justifications:     justs,
			Timestamp:          time.Now().UTC(),
			JRank:              jRank,
			MainRank:           mainRank,
		}}
		_, err = message.Sign(b, priv1)
		require.NoError(t, err)
		require.NoError(t, store.PutMessage(ctx, b))
		return b
	}

	b1 := mkBlock(0, []common.Hash{g})
	s1 := mkBlock(2, []common.Hash{g})
	// b2 cites s1 as a justification, putting the side block in b2's j-past
	// cone (the set the orphan traversal walks).
	b2 := mkBlock(1, []common.Hash{b1.Hash()}, message.Justification{Validator: v1, LatestMessage: s1.Hash()})

	bonds := BondedSet{Validators: []common.PublicKey{v1}, Weights: []common.Stake{10}}
	equiv := equivocation.New(view, store)
	detector := New(view, store, equiv, g, bonds, 0.1)

	finalized, err := detector.markIndirectlyFinalized(ctx, b2.Hash())
	require.NoError(t, err)
	assert.Contains(t, finalized, b1.Hash())

	orphaned, err := detector.markOrphaned(ctx, b2.Hash(), finalized)
	require.NoError(t, err)
	assert.Contains(t, orphaned, s1.Hash())
}

func TestRankCorrectness(t *testing.T) {
	ctx := context.Background()
	store := dag.NewMemStore()
	view := dag.NewView(store)

	v1, priv1, err := message.GenerateKey()
	require.NoError(t, err)

	genesis := &message.Block{Header: message.Header{Timestamp: time.Now().UTC()}}
	_, err = message.Sign(genesis, priv1)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, genesis))

	jRank, mainRank, err := dag.ComputeRanks(ctx, view, []common.Hash{genesis.Hash()}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), jRank)
	assert.Equal(t, uint64(1), mainRank)
	assert.Equal(t, uint64(0), genesis.JRank)
}

func TestMatrixCommitteeCheckRequiresMutualVisibility(t *testing.T) {
	v1, _, err := message.GenerateKey()
	require.NoError(t, err)
	v2, _, err := message.GenerateKey()
	require.NoError(t, err)

	mtx := NewMatrix(common.HexToHash("0x01"), []common.PublicKey{v1, v2}, []common.Stake{10, 10})
	mtx.firstLevelZeroVotes[0] = LevelZeroVote{Branch: mtx.Candidate, JRank: 1, Set: true}
	mtx.firstLevelZeroVotes[1] = LevelZeroVote{Branch: mtx.Candidate, JRank: 1, Set: true}

	_, committed := mtx.CommitteeCheck(0.1)
	assert.False(t, committed, "no mutual visibility recorded yet")

	mtx.set(0, 1, 1)
	mtx.set(1, 0, 1)
	committee, committed := mtx.CommitteeCheck(0.1)
	assert.True(t, committed)
	assert.Len(t, committee, 2)
}
