// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package forkchoice

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

func TestChoicePicksHeavierSubtree(t *testing.T) {
	ctx := context.Background()
	store := dag.NewMemStore()
	view := dag.NewView(store)
	fc := New(view, store)

	v1, priv1, err := message.GenerateKey()
	require.NoError(t, err)
	v2, priv2, err := message.GenerateKey()
	require.NoError(t, err)
	v3, priv3, err := message.GenerateKey()
	require.NoError(t, err)

	genesis := &message.Block{Header: message.Header{Timestamp: time.Now().UTC()}}
	_, err = message.Sign(genesis, priv1)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, genesis))
	g := genesis.Hash()

	signWith := func(b *message.Block, which int) {
		switch which {
		case 1:
			_, err = message.Sign(b, priv1)
		case 2:
			_, err = message.Sign(b, priv2)
		case 3:
			_, err = message.Sign(b, priv3)
		}
		require.NoError(t, err)
		require.NoError(t, store.PutMessage(ctx, b))
	}

	// Two branches off genesis: b1 (supported by v1+v2, stake 20) and b2
	// (supported only by v3, stake 10).
	b1 := &message.Block{Header: message.Header{ValidatorID: v1, Parents: []common.Hash{g}, Timestamp: time.Now().UTC()}}
	signWith(b1, 1)
	b2 := &message.Block{Header: message.Header{ValidatorID: v3, Parents: []common.Hash{g}, Timestamp: time.Now().UTC()}}
	signWith(b2, 3)

	v2tip := &message.Block{Header: message.Header{ValidatorID: v2, Parents: []common.Hash{b1.Hash()}, Timestamp: time.Now().UTC()}}
	signWith(v2tip, 2)

	bonds := []message.Bond{{Validator: v1, Stake: 10}, {Validator: v2, Stake: 10}, {Validator: v3, Stake: 10}}

	choice1, err := fc.Choice(ctx, g, bonds)
	require.NoError(t, err)
	assert.Equal(t, v2tip.Hash(), choice1, "b1's subtree (v1 tip + v2 tip) carries 20 stake vs b2's 10, and the walk continues to b1's child v2tip")

	// Idempotence: calling again with the same stored state gives the same
	// answer (testable property 6).
	choice2, err := fc.Choice(ctx, g, bonds)
	require.NoError(t, err)
	assert.Equal(t, choice1, choice2)
}

func TestSecondaryParentsSortedAndExcludesMainParent(t *testing.T) {
	ctx := context.Background()
	store := dag.NewMemStore()
	view := dag.NewView(store)
	fc := New(view, store)

	v1, priv1, err := message.GenerateKey()
	require.NoError(t, err)
	v2, priv2, err := message.GenerateKey()
	require.NoError(t, err)

	genesis := &message.Block{Header: message.Header{Timestamp: time.Now().UTC()}}
	_, err = message.Sign(genesis, priv1)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, genesis))
	g := genesis.Hash()

	b1 := &message.Block{Header: message.Header{ValidatorID: v1, Parents: []common.Hash{g}, Timestamp: time.Now().UTC()}}
	_, err = message.Sign(b1, priv1)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, b1))

	b2 := &message.Block{Header: message.Header{ValidatorID: v2, Parents: []common.Hash{g}, Timestamp: time.Now().UTC()}}
	_, err = message.Sign(b2, priv2)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, b2))

	tips := []common.Hash{b1.Hash(), b2.Hash()}
	secondaries, err := fc.SecondaryParents(ctx, b1.Hash(), tips, map[string]bool{}, true)
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{b2.Hash()}, secondaries)

	none, err := fc.SecondaryParents(ctx, b1.Hash(), tips, map[string]bool{}, false)
	require.NoError(t, err)
	assert.Empty(t, none)
}
