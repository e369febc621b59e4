// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package highway

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/consensus/equivocation"
	"github.com/hwdag/hwnode/consensus/executor"
	"github.com/hwdag/hwnode/consensus/finality"
	"github.com/hwdag/hwnode/consensus/forkchoice"
	"github.com/hwdag/hwnode/dag"
	"github.com/hwdag/hwnode/execengine"
	"github.com/hwdag/hwnode/message"
)

type noopDeployPool struct{}

func (noopDeployPool) CandidateDeploys(ctx context.Context, maxBytes uint64) ([]*message.Deploy, error) {
	return nil, nil
}

func (noopDeployPool) Requeue(ctx context.Context, hash common.Hash) error { return nil }

func newTestProducer(t *testing.T, pub common.PublicKey, priv ed25519.PrivateKey) (*Producer, *dag.MemStore, *executor.Executor, *execengine.InMemory) {
	t.Helper()
	store := dag.NewMemStore()
	view := dag.NewView(store)
	equiv := equivocation.New(view, store)
	fin := finality.New(view, store, equiv, common.Hash{}, finality.BondedSet{}, 0.1)
	engine := execengine.NewInMemory(nil, nil)
	exec := executor.New(view, store, equiv, fin, engine, nil, executor.Config{ProtocolVersion: 1, ClockDrift: time.Minute, LocalValidator: pub}, nil, nil)
	fc := forkchoice.New(view, store)
	p := New(view, store, store, fc, engine, noopDeployPool{}, exec, pub, priv, Config{ProtocolVersion: 1, MaxDeployBytes: 1 << 20})
	return p, store, exec, engine
}

// seedGenesis signs and persists a genesis block as pub, scoped to eraID, so
// Producer.previousMessage can find it via LatestInEra.
func seedGenesis(t *testing.T, exec *executor.Executor, engine *execengine.InMemory, pub common.PublicKey, priv ed25519.PrivateKey, eraID common.Hash) *message.Block {
	t.Helper()
	ctx := context.Background()
	root, _, err := engine.Commit(ctx, common.Hash{}, map[string][]byte{}, 1)
	require.NoError(t, err)
	genesis := &message.Block{
		Header: message.Header{
			ValidatorID: pub,
			EraID:       eraID,
			Timestamp:   time.Now().UTC(),
		},
		PostStateHash: root,
	}
	_, err = message.Sign(genesis, priv)
	require.NoError(t, err)
	res, err := exec.AddMessage(ctx, genesis)
	require.NoError(t, err)
	require.Equal(t, executor.StatusValid, res.Status)
	return genesis
}

func TestProducerBlockBuildsValidBlockAndAdvancesSeqNum(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := message.GenerateKey()
	require.NoError(t, err)

	era := &dag.Era{
		KeyBlockHash: common.HexToHash("0x01"),
		StartTick:    0,
		EndTick:      1 << 40,
		Bonds:        []message.Bond{{Validator: pub, Stake: 100}},
		LeaderSeed:   7,
	}

	p, store, exec, engine := newTestProducer(t, pub, priv)
	require.NoError(t, store.PutEra(ctx, era))
	genesis := seedGenesis(t, exec, engine, pub, priv, era.KeyBlockHash)
	g := genesis.Hash()

	block, res, err := p.Block(ctx, era.KeyBlockHash, 0, g, nil, false, false, nil)
	require.NoError(t, err)
	assert.Equal(t, executor.StatusValid, res.Status)
	assert.Equal(t, uint64(1), block.Header.ValidatorMsgSeqNum)
	assert.Equal(t, g, block.Header.ValidatorPrevMessageHash)
	assert.Equal(t, []common.Hash{g}, block.Header.Parents)

	has, err := store.HasMessage(ctx, block.Hash())
	require.NoError(t, err)
	assert.True(t, has)
}

func TestProducerBallotTargetsGivenMessage(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := message.GenerateKey()
	require.NoError(t, err)

	era := &dag.Era{
		KeyBlockHash: common.HexToHash("0x02"),
		StartTick:    0,
		EndTick:      1 << 40,
		Bonds:        []message.Bond{{Validator: pub, Stake: 100}},
		LeaderSeed:   3,
	}

	p, store, exec, engine := newTestProducer(t, pub, priv)
	require.NoError(t, store.PutEra(ctx, era))
	genesis := seedGenesis(t, exec, engine, pub, priv, era.KeyBlockHash)
	g := genesis.Hash()

	ballot, res, err := p.Ballot(ctx, era.KeyBlockHash, 1, g, nil)
	require.NoError(t, err)
	assert.Equal(t, executor.StatusValid, res.Status)
	assert.Equal(t, g, ballot.Target)
	assert.Equal(t, uint64(1), ballot.Header.ValidatorMsgSeqNum)
}

func TestProducerPreviousMessagePrefersJustification(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := message.GenerateKey()
	require.NoError(t, err)

	era := &dag.Era{
		KeyBlockHash: common.HexToHash("0x03"),
		StartTick:    0,
		EndTick:      1 << 40,
		Bonds:        []message.Bond{{Validator: pub, Stake: 100}},
		LeaderSeed:   9,
	}

	p, store, exec, engine := newTestProducer(t, pub, priv)
	require.NoError(t, store.PutEra(ctx, era))
	genesis := seedGenesis(t, exec, engine, pub, priv, era.KeyBlockHash)
	g := genesis.Hash()

	prevHash, seqNum, err := p.previousMessage(ctx, era.KeyBlockHash, []message.Justification{
		{Validator: pub, LatestMessage: g},
	})
	require.NoError(t, err)
	assert.Equal(t, g, prevHash)
	assert.Equal(t, uint64(1), seqNum)
}

func TestProducerPreviousMessageRestartsPerEra(t *testing.T) {
	ctx := context.Background()
	pub, priv, err := message.GenerateKey()
	require.NoError(t, err)

	era := &dag.Era{KeyBlockHash: common.HexToHash("0x04"), StartTick: 0, EndTick: 1 << 40}
	p, store, _, _ := newTestProducer(t, pub, priv)
	require.NoError(t, store.PutEra(ctx, era))

	prevHash, seqNum, err := p.previousMessage(ctx, era.KeyBlockHash, nil)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, prevHash)
	assert.Equal(t, uint64(0), seqNum)
}
