// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/consensus/equivocation"
	"github.com/hwdag/hwnode/consensus/finality"
	"github.com/hwdag/hwnode/dag"
	"github.com/hwdag/hwnode/errs"
	"github.com/hwdag/hwnode/execengine"
	"github.com/hwdag/hwnode/message"
)

func newTestExecutor(t *testing.T, local common.PublicKey, fatal errs.FatalHandler) (*Executor, *dag.MemStore) {
	t.Helper()
	store := dag.NewMemStore()
	view := dag.NewView(store)
	equiv := equivocation.New(view, store)
	fin := finality.New(view, store, equiv, common.Hash{}, finality.BondedSet{}, 0.1)
	engine := execengine.NewInMemory(nil, nil)
	cfg := Config{ProtocolVersion: 1, ClockDrift: time.Minute, LocalValidator: local}
	return New(view, store, equiv, fin, engine, nil, cfg, nil, fatal), store
}

// rootChain mirrors execengine.InMemory's deterministic Commit against a
// scratch engine that tracks the same sequence of roots, so fixtures can
// claim the post-state hash the real engine will independently compute.
type rootChain struct {
	engine *execengine.InMemory
}

func newRootChain() *rootChain { return &rootChain{engine: execengine.NewInMemory(nil, nil)} }

func (c *rootChain) commit(t *testing.T, prestate common.Hash) common.Hash {
	t.Helper()
	root, _, err := c.engine.Commit(context.Background(), prestate, map[string][]byte{}, 1)
	require.NoError(t, err)
	return root
}

func TestS3SelfEquivocationIsFatal(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := message.GenerateKey()
	require.NoError(t, err)

	var fatalCalls []*errs.Error
	exec, _ := newTestExecutor(t, pub, func(e *errs.Error) { fatalCalls = append(fatalCalls, e) })
	chain := newRootChain()

	genesisRoot := chain.commit(t, common.Hash{})
	genesis := &message.Block{Header: message.Header{Timestamp: time.Now().UTC()}, PostStateHash: genesisRoot}
	_, err = message.Sign(genesis, priv)
	require.NoError(t, err)
	gres, err := exec.AddMessage(ctx, genesis)
	require.NoError(t, err)
	require.Equal(t, StatusValid, gres.Status)
	g := genesis.Hash()

	bRoot := chain.commit(t, genesisRoot)
	b := &message.Block{Header: message.Header{
		ValidatorID: pub, Parents: []common.Hash{g}, Timestamp: time.Now().UTC(),
	}, PostStateHash: bRoot}
	_, err = message.Sign(b, priv)
	require.NoError(t, err)
	res, err := exec.AddMessage(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, res.Status)

	// A second, conflicting message from the same local key citing the same
	// prev-hash: the executor must classify it as SelfEquivocatedBlock and
	// invoke the fatal handler instead of returning a plain validation error.
	rival := &message.Ballot{Header: message.Header{
		ValidatorID: pub, Parents: []common.Hash{g}, Timestamp: time.Now().UTC().Add(time.Second),
	}, Target: g, PostStateHash: genesisRoot}
	_, err = message.Sign(rival, priv)
	require.NoError(t, err)

	res, err = exec.AddMessage(ctx, rival)
	require.Error(t, err)
	assert.Equal(t, StatusSelfEquivocatedBlock, res.Status)
	assert.Len(t, fatalCalls, 1)
	assert.Equal(t, errs.KindFatal, fatalCalls[0].Kind)
}

func TestInvalidSignatureIsRejected(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := message.GenerateKey()
	require.NoError(t, err)
	exec, store := newTestExecutor(t, nil, nil)

	genesis := &message.Block{Header: message.Header{Timestamp: time.Now().UTC()}}
	_, err = message.Sign(genesis, priv)
	require.NoError(t, err)
	require.NoError(t, store.PutMessage(ctx, genesis))

	other, otherPriv, err := message.GenerateKey()
	require.NoError(t, err)
	tampered := &message.Block{Header: message.Header{
		ValidatorID: other, Parents: []common.Hash{genesis.Hash()}, Timestamp: time.Now().UTC(),
	}}
	_, err = message.Sign(tampered, otherPriv)
	require.NoError(t, err)
	tampered.ValidatorID = pub // swap after signing to break the signature

	res, err := exec.AddMessage(ctx, tampered)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidBlock, res.Status)
	assert.Equal(t, errs.SubKindSignature, res.Sub)
}

func TestReentryReturnsProcessed(t *testing.T) {
	ctx := context.Background()
	_, priv, err := message.GenerateKey()
	require.NoError(t, err)
	exec, _ := newTestExecutor(t, nil, nil)
	chain := newRootChain()

	genesisRoot := chain.commit(t, common.Hash{})
	genesis := &message.Block{Header: message.Header{Timestamp: time.Now().UTC()}, PostStateHash: genesisRoot}
	_, err = message.Sign(genesis, priv)
	require.NoError(t, err)

	first, err := exec.AddMessage(ctx, genesis)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, first.Status)

	second, err := exec.AddMessage(ctx, genesis)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, second.Status)
}

func TestValidBlockPersistsAndComputesPostState(t *testing.T) {
	ctx := context.Background()
	_, priv, err := message.GenerateKey()
	require.NoError(t, err)
	exec, store := newTestExecutor(t, nil, nil)
	chain := newRootChain()

	genesisRoot := chain.commit(t, common.Hash{})
	genesis := &message.Block{Header: message.Header{Timestamp: time.Now().UTC()}, PostStateHash: genesisRoot}
	_, err = message.Sign(genesis, priv)
	require.NoError(t, err)

	res, err := exec.AddMessage(ctx, genesis)
	require.NoError(t, err)
	require.Equal(t, StatusValid, res.Status)

	ok, err := store.HasMessage(ctx, genesis.Hash())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMissingParentIsMissingDep(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := message.GenerateKey()
	require.NoError(t, err)
	exec, _ := newTestExecutor(t, nil, nil)

	orphan := &message.Block{Header: message.Header{
		ValidatorID: pub, Parents: []common.Hash{common.HexToHash("0xdead")}, Timestamp: time.Now().UTC(),
	}}
	_, err = message.Sign(orphan, priv)
	require.NoError(t, err)

	res, err := exec.AddMessage(ctx, orphan)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidBlock, res.Status)
	assert.Equal(t, errs.SubKindMissingDep, res.Sub)
}
