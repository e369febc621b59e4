// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package equivocation

import (
	"context"
	"testing"
	"time"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/dag"
	"github.com/hwdag/hwnode/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS2CheckTipDetectsEquivocation(t *testing.T) {
	ctx := context.Background()
	store := dag.NewMemStore()
	view := dag.NewView(store)
	det := New(view, store)

	pub, priv, err := message.GenerateKey()
	require.NoError(t, err)

	genesis := &message.Block{Header: message.Header{Timestamp: time.Now().UTC()}}
	_, err = message.Sign(genesis, priv)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, genesis))
	g := genesis.Hash()

	b1 := &message.Block{Header: message.Header{
		ValidatorID: pub, ValidatorMsgSeqNum: 1, Parents: []common.Hash{g}, Timestamp: time.Now().UTC(),
	}}
	_, err = message.Sign(b1, priv)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, b1))

	// Legitimate next message citing the one recorded tip: no equivocation.
	legit := &message.Block{Header: message.Header{
		ValidatorID: pub, ValidatorMsgSeqNum: 2, ValidatorPrevMessageHash: b1.Hash(),
		Parents: []common.Hash{b1.Hash()}, Timestamp: time.Now().UTC(),
	}}
	_, err = message.Sign(legit, priv)
	require.NoError(t, err)
	isEquiv, err := det.CheckTip(ctx, legit)
	require.NoError(t, err)
	assert.False(t, isEquiv)
	require.NoError(t, store.PutMessage(ctx, legit))

	// A second message citing the stale tip (b1, not legit) after legit has
	// already been recorded: CheckTip is keyed off *current* tips, so a
	// validator with two open tips is unconditionally equivocating.
	rival := &message.Block{Header: message.Header{
		ValidatorID: pub, ValidatorMsgSeqNum: 2, ValidatorPrevMessageHash: b1.Hash(),
		Parents: []common.Hash{b1.Hash()}, Timestamp: time.Now().UTC().Add(time.Second),
	}}
	_, err = message.Sign(rival, priv)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, rival))

	isEquiv, err = det.CheckTip(ctx, &message.Block{Header: message.Header{
		ValidatorID: pub, ValidatorMsgSeqNum: 3, ValidatorPrevMessageHash: legit.Hash(),
		Parents: []common.Hash{legit.Hash()}, Timestamp: time.Now().UTC(),
	}})
	require.NoError(t, err)
	assert.True(t, isEquiv, "validator now has two open tips (legit, rival), so any next message is equivocating")
}

func TestVisibleEquivocatorsFindsConflictingSeqNum(t *testing.T) {
	ctx := context.Background()
	store := dag.NewMemStore()
	view := dag.NewView(store)
	det := New(view, store)

	pub, priv, err := message.GenerateKey()
	require.NoError(t, err)
	other, otherPriv, err := message.GenerateKey()
	require.NoError(t, err)

	genesis := &message.Block{Header: message.Header{Timestamp: time.Now().UTC()}}
	_, err = message.Sign(genesis, priv)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, genesis))
	g := genesis.Hash()

	a := &message.Block{Header: message.Header{
		ValidatorID: pub, ValidatorMsgSeqNum: 1, Parents: []common.Hash{g},
		Timestamp: time.Now().UTC(), JRank: 1,
	}}
	_, err = message.Sign(a, priv)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, a))

	b := &message.Block{Header: message.Header{
		ValidatorID: pub, ValidatorMsgSeqNum: 1, Parents: []common.Hash{g},
		Timestamp: time.Now().UTC().Add(time.Second), JRank: 1,
	}}
	_, err = message.Sign(b, priv)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, b))

	witness := &message.Block{Header: message.Header{
		ValidatorID: other, ValidatorMsgSeqNum: 1, Parents: []common.Hash{g},
		Justifications: []message.Justification{{Validator: pub, LatestMessage: a.Hash()}, {Validator: pub, LatestMessage: b.Hash()}},
		Timestamp:      time.Now().UTC(),
		JRank:          2,
	}}
	_, err = message.Sign(witness, otherPriv)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, witness))

	equivocators, err := det.VisibleEquivocators(ctx, map[string]common.Hash{
		string(other): witness.Hash(),
	}, nil)
	require.NoError(t, err)
	assert.True(t, equivocators.Contains(string(pub)), "a and b share (validator, seqNum=1) with different hashes")
}

func TestMinBaseRankOf(t *testing.T) {
	assert.Equal(t, uint64(0), minBaseRankOf(nil))
	assert.Equal(t, uint64(0), minBaseRankOf([]uint64{0, 5}))
	assert.Equal(t, uint64(3), minBaseRankOf([]uint64{4, 9}))
}
