// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package highway

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/consensus/executor"
	"github.com/hwdag/hwnode/consensus/forkchoice"
	"github.com/hwdag/hwnode/dag"
	"github.com/hwdag/hwnode/execengine"
	"github.com/hwdag/hwnode/message"
)

// DeployPool is the mempool view the producer pulls candidate deploys from
// and re-queues orphaned ones into (§4.6 block()); the mempool itself is
// out of scope, only this call shape is named.
type DeployPool interface {
	CandidateDeploys(ctx context.Context, maxBytes uint64) ([]*message.Deploy, error)
	Requeue(ctx context.Context, hash common.Hash) error
}

// Sink is the collaborator the producer hands freshly-signed messages to;
// consensus/executor.Executor satisfies it, so a self-produced message runs
// the same validate/persist/finalize pipeline as any received one.
type Sink interface {
	AddMessage(ctx context.Context, m message.Message) (executor.Result, error)
}

// Producer is the thread-safe message builder of §4.6: a single permit
// serializes fork-choice and signing so the validator cannot equivocate
// against itself from concurrent callers (§5.2).
type Producer struct {
	view    *dag.View
	store   dag.BlockStorage
	eras    dag.EraStorage
	fc      *forkchoice.ForkChoice
	engine  execengine.Engine
	deploys DeployPool
	sink    Sink

	pub  common.PublicKey
	priv ed25519.PrivateKey

	protocolVersion         uint32
	secondaryParentsEnabled bool
	maxDeployBytes          uint64

	permit *semaphore.Weighted
}

// Config bundles Producer's construction-time tunables.
type Config struct {
	ProtocolVersion         uint32
	SecondaryParentsEnabled bool
	MaxDeployBytes          uint64
}

// New returns a Producer signing as pub/priv.
func New(view *dag.View, store dag.BlockStorage, eras dag.EraStorage, fc *forkchoice.ForkChoice, engine execengine.Engine, deploys DeployPool, sink Sink, pub common.PublicKey, priv ed25519.PrivateKey, cfg Config) *Producer {
	return &Producer{
		view: view, store: store, eras: eras, fc: fc, engine: engine, deploys: deploys, sink: sink,
		pub: pub, priv: priv,
		protocolVersion:         cfg.ProtocolVersion,
		secondaryParentsEnabled: cfg.SecondaryParentsEnabled,
		maxDeployBytes:          cfg.MaxDeployBytes,
		permit:                  semaphore.NewWeighted(1),
	}
}

// Ballot implements §4.6's ballot(): signs a Ballot targeting target,
// copying its post-state/bonds, without executing any deploys.
func (p *Producer) Ballot(ctx context.Context, keyBlockHash common.Hash, roundID uint64, target common.Hash, justifications []message.Justification) (*message.Ballot, executor.Result, error) {
	if err := p.permit.Acquire(ctx, 1); err != nil {
		return nil, executor.Result{}, fmt.Errorf("highway: acquire producer permit: %w", err)
	}
	defer p.permit.Release(1)

	targetMsg, ok, err := p.view.Lookup(ctx, target)
	if err != nil {
		return nil, executor.Result{}, err
	}
	if !ok {
		return nil, executor.Result{}, fmt.Errorf("highway: ballot target %s not found", target.Hex())
	}
	postState, bonds := messagePostState(targetMsg)

	prevHash, seqNum, err := p.previousMessage(ctx, keyBlockHash, justifications)
	if err != nil {
		return nil, executor.Result{}, err
	}

	ballotParents := []common.Hash{target}
	jRank, mainRank, err := dag.ComputeRanks(ctx, p.view, ballotParents, justifications)
	if err != nil {
		return nil, executor.Result{}, err
	}

	ballot := &message.Ballot{
		Header: message.Header{
			ValidatorID:              p.pub,
			ValidatorMsgSeqNum:       seqNum,
			ValidatorPrevMessageHash: prevHash,
			Parents:                  ballotParents,
			Justifications:           justifications,
			JRank:                    jRank,
			MainRank:                 mainRank,
			EraID:                    keyBlockHash,
			RoundID:                  roundID,
			Timestamp:                time.Now().UTC(),
		},
		Target:        target,
		PostStateHash: postState,
		Bonds:         bonds,
	}
	if _, err := message.Sign(ballot, p.priv); err != nil {
		return nil, executor.Result{}, err
	}
	res, err := p.sink.AddMessage(ctx, ballot)
	return ballot, res, err
}

// Block implements §4.6's block(): selects secondary parents, re-queues
// deploys from orphaned blocks, pulls candidate deploys, computes effects
// via the execution engine, signs, and persists.
func (p *Producer) Block(ctx context.Context, keyBlockHash common.Hash, roundID uint64, mainParent common.Hash, justifications []message.Justification, isBookingBlock, isSwitchBlock bool, orphaned []common.Hash) (*message.Block, executor.Result, error) {
	if err := p.permit.Acquire(ctx, 1); err != nil {
		return nil, executor.Result{}, fmt.Errorf("highway: acquire producer permit: %w", err)
	}
	defer p.permit.Release(1)

	era, err := p.eras.GetEra(ctx, keyBlockHash)
	if err != nil {
		return nil, executor.Result{}, err
	}

	validators := make([]common.PublicKey, 0, len(era.Bonds))
	for _, b := range era.Bonds {
		validators = append(validators, b.Validator)
	}
	tips, err := p.fc.AllTips(ctx, validators)
	if err != nil {
		return nil, executor.Result{}, err
	}
	equivocators, err := p.store.EquivocatorsInEra(ctx, keyBlockHash)
	if err != nil {
		return nil, executor.Result{}, err
	}
	equivSet := make(map[string]bool, len(equivocators))
	for _, v := range equivocators {
		equivSet[string(v)] = true
	}
	secondary, err := p.fc.SecondaryParents(ctx, mainParent, tips, equivSet, p.secondaryParentsEnabled)
	if err != nil {
		return nil, executor.Result{}, err
	}
	parents := append([]common.Hash{mainParent}, secondary...)

	if err := p.requeueOrphanedDeploys(ctx, orphaned); err != nil {
		return nil, executor.Result{}, err
	}

	mainParentMsg, ok, err := p.view.Lookup(ctx, mainParent)
	if err != nil {
		return nil, executor.Result{}, err
	}
	if !ok {
		return nil, executor.Result{}, fmt.Errorf("highway: main parent %s not found", mainParent.Hex())
	}
	prestate, _ := messagePostState(mainParentMsg)

	candidates, err := p.deploys.CandidateDeploys(ctx, p.maxDeployBytes)
	if err != nil {
		return nil, executor.Result{}, err
	}
	deployHashes := make([]common.Hash, len(candidates))
	for i, d := range candidates {
		deployHashes[i] = d.Hash
	}

	timestamp := time.Now().UTC()
	results, err := p.engine.Exec(ctx, prestate, timestamp.UnixMilli(), candidates, p.protocolVersion)
	if err != nil {
		return nil, executor.Result{}, err
	}
	transform := make(map[string][]byte)
	for _, r := range results {
		for k, v := range r.Transform {
			transform[k] = v
		}
	}
	postState, bonds, err := p.engine.Commit(ctx, prestate, transform, p.protocolVersion)
	if err != nil {
		return nil, executor.Result{}, err
	}

	prevHash, seqNum, err := p.previousMessage(ctx, keyBlockHash, justifications)
	if err != nil {
		return nil, executor.Result{}, err
	}

	jRank, mainRank, err := dag.ComputeRanks(ctx, p.view, parents, justifications)
	if err != nil {
		return nil, executor.Result{}, err
	}

	block := &message.Block{
		Header: message.Header{
			ValidatorID:              p.pub,
			ValidatorMsgSeqNum:       seqNum,
			ValidatorPrevMessageHash: prevHash,
			Parents:                  parents,
			Justifications:           justifications,
			JRank:                    jRank,
			MainRank:                 mainRank,
			EraID:                    keyBlockHash,
			RoundID:                  roundID,
			Timestamp:                timestamp,
		},
		Deploys:        deployHashes,
		PostStateHash:  postState,
		Bonds:          bonds,
		IsBookingBlock: isBookingBlock,
		IsSwitchBlock:  isSwitchBlock,
	}
	if _, err := message.Sign(block, p.priv); err != nil {
		return nil, executor.Result{}, err
	}
	res, err := p.sink.AddMessage(ctx, block)
	return block, res, err
}

func (p *Producer) requeueOrphanedDeploys(ctx context.Context, orphaned []common.Hash) error {
	for _, h := range orphaned {
		m, ok, err := p.view.Lookup(ctx, h)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		block, ok := m.(*message.Block)
		if !ok {
			continue
		}
		for _, d := range block.Deploys {
			if err := p.deploys.Requeue(ctx, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// previousMessage implements §4.6's "finds its own latest within the era
// (preferring the provided justifications; falling back to a storage
// lookup under the permit); validatorSeqNum = prev.seqNum + 1 restarted
// per era".
func (p *Producer) previousMessage(ctx context.Context, eraID common.Hash, justifications []message.Justification) (common.Hash, uint64, error) {
	for _, j := range justifications {
		if j.Validator.Equal(p.pub) {
			m, ok, err := p.view.Lookup(ctx, j.LatestMessage)
			if err != nil {
				return common.Hash{}, 0, err
			}
			if ok {
				return j.LatestMessage, m.GetHeader().ValidatorMsgSeqNum + 1, nil
			}
		}
	}

	tips, err := p.store.LatestInEra(ctx, p.pub, eraID)
	if err != nil {
		return common.Hash{}, 0, err
	}
	if len(tips) == 0 {
		return common.Hash{}, 0, nil
	}
	if len(tips) > 1 {
		return common.Hash{}, 0, fmt.Errorf("highway: own validator has %d tips in era %s, refusing to build on an equivocation", len(tips), eraID.Hex())
	}
	m, ok, err := p.view.Lookup(ctx, tips[0])
	if err != nil {
		return common.Hash{}, 0, err
	}
	if !ok {
		return common.Hash{}, 0, fmt.Errorf("highway: own latest message %s not found", tips[0].Hex())
	}
	return tips[0], m.GetHeader().ValidatorMsgSeqNum + 1, nil
}

func messagePostState(m message.Message) (common.Hash, []message.Bond) {
	switch v := m.(type) {
	case *message.Block:
		return v.PostStateHash, v.Bonds
	case *message.Ballot:
		return v.PostStateHash, v.Bonds
	default:
		return common.Hash{}, nil
	}
}
