// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

// Package executor implements the Message Executor state machine of §4.2:
// Received → PreTimestampCheck → Validated → Executed → Persisted →
// Finalized*, with the Invalid(kind)/EquivocatedBlock/SelfEquivocatedBlock
// branches, all under the single message-adding permit of §5.1.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/consensus/equivocation"
	"github.com/hwdag/hwnode/consensus/finality"
	"github.com/hwdag/hwnode/dag"
	"github.com/hwdag/hwnode/errs"
	"github.com/hwdag/hwnode/execengine"
	"github.com/hwdag/hwnode/message"
)

// Status is the taxonomy of §4.2's closing paragraph.
type Status uint8

const (
	StatusValid Status = iota
	StatusEquivocatedBlock
	StatusSelfEquivocatedBlock
	StatusInvalidBlock
	StatusMissingBlocks
	StatusProcessing
	StatusProcessed
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusEquivocatedBlock:
		return "equivocated-block"
	case StatusSelfEquivocatedBlock:
		return "self-equivocated-block"
	case StatusInvalidBlock:
		return "invalid-block"
	case StatusMissingBlocks:
		return "missing-blocks"
	case StatusProcessing:
		return "processing"
	case StatusProcessed:
		return "processed"
	default:
		return "unknown"
	}
}

// Result is what AddMessage returns to its caller.
type Result struct {
	Status    Status
	Sub       errs.ValidationSubKind
	NewLFB    *common.Hash
	Finalized []common.Hash
	Orphaned  []common.Hash
}

// DeployLookup resolves a deploy hash cited by a block to its Deploy, for
// the TTL check of §4.2 step 2. The mempool that backs this is out of
// scope; tests and callers inject whatever source they have.
type DeployLookup func(ctx context.Context, hash common.Hash) (*message.Deploy, bool, error)

// Config carries the executor's tunables (spec §6).
type Config struct {
	ProtocolVersion uint32
	ClockDrift      time.Duration
	// LocalValidator, if non-empty, is this node's own signing key: a
	// detected equivocation attributed to it is SelfEquivocatedBlock, not
	// EquivocatedBlock (§4.2, seed scenario S3).
	LocalValidator common.PublicKey
}

// Executor drives incoming messages through the §4.2 state machine.
type Executor struct {
	view     *dag.View
	store    dag.BlockStorage
	equiv    *equivocation.Detector
	fin      *finality.Detector
	engine   execengine.Engine
	deploys  DeployLookup
	cfg      Config
	ban      errs.BanHandler
	fatal    errs.FatalHandler

	// permit is the size-1 weighted semaphore of §5.1: only one message is
	// admitted through validate→execute→persist→finalize→emit at a time.
	permit *semaphore.Weighted

	mu         sync.Mutex
	processing map[common.Hash]bool
	processed  map[common.Hash]Status
}

// New returns an Executor. ban/fatal may be nil (no-op); production wiring
// (cmd/hwnode) supplies handlers that log the ban and that exit through
// log.Crit respectively, while tests inject handlers that just record the
// call.
func New(view *dag.View, store dag.BlockStorage, equiv *equivocation.Detector, fin *finality.Detector, engine execengine.Engine, deploys DeployLookup, cfg Config, ban errs.BanHandler, fatal errs.FatalHandler) *Executor {
	return &Executor{
		view:       view,
		store:      store,
		equiv:      equiv,
		fin:        fin,
		engine:     engine,
		deploys:    deploys,
		cfg:        cfg,
		ban:        ban,
		fatal:      fatal,
		permit:     semaphore.NewWeighted(1),
		processing: make(map[common.Hash]bool),
		processed:  make(map[common.Hash]Status),
	}
}

// AddMessage runs m through the full §4.2 pipeline. A per-call correlation
// ID tags the error returned when the permit cannot be acquired.
func (e *Executor) AddMessage(ctx context.Context, m message.Message) (Result, error) {
	jobID := uuid.New()
	hash := m.Hash()

	e.mu.Lock()
	if status, ok := e.processed[hash]; ok {
		e.mu.Unlock()
		return Result{Status: StatusProcessed, Sub: statusSub(status)}, nil
	}
	if e.processing[hash] {
		e.mu.Unlock()
		return Result{Status: StatusProcessing}, nil
	}
	e.processing[hash] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.processing, hash)
		e.mu.Unlock()
	}()

	if err := e.permit.Acquire(ctx, 1); err != nil {
		return Result{}, fmt.Errorf("executor[%s]: acquire permit: %w", jobID, err)
	}
	defer e.permit.Release(1)

	result, err := e.process(ctx, m)

	e.mu.Lock()
	e.processed[hash] = result.Status
	e.mu.Unlock()
	return result, err
}

func statusSub(s Status) errs.ValidationSubKind {
	if s == StatusInvalidBlock {
		return errs.SubKindShape
	}
	return 0
}

// process implements §4.2 steps 1-9 under the caller's held permit.
func (e *Executor) process(ctx context.Context, m message.Message) (Result, error) {
	if err := e.waitForTimestamp(ctx, m); err != nil {
		return Result{}, err
	}

	if sub, verr := e.validate(ctx, m); verr != nil {
		if e.ban != nil {
			e.ban(m.GetHeader().ValidatorID, sub)
		}
		return Result{Status: StatusInvalidBlock, Sub: sub}, nil
	}

	prestate, postState, bonds, err := e.executeEffects(ctx, m)
	if err != nil {
		if ve, ok := err.(*errs.Error); ok && ve.Kind == errs.KindValidation {
			if e.ban != nil {
				e.ban(m.GetHeader().ValidatorID, ve.Sub)
			}
			return Result{Status: StatusInvalidBlock, Sub: ve.Sub}, nil
		}
		return Result{}, err
	}
	_ = prestate

	if sub, ok := e.checkTransaction(m, postState, bonds); !ok {
		if e.ban != nil {
			e.ban(m.GetHeader().ValidatorID, sub)
		}
		return Result{Status: StatusInvalidBlock, Sub: sub}, nil
	}

	// Ranks are never carried on the wire (message/codec.go never encodes
	// them): every recipient, including the local validator's own produced
	// messages re-entering through this same pipeline, recomputes them here
	// from the now-confirmed-present parents/justifications (§3, property 4).
	hdr := m.GetHeader()
	jRank, mainRank, err := dag.ComputeRanks(ctx, e.view, hdr.Parents, hdr.Justifications)
	if err != nil {
		return Result{}, errs.Transient(err)
	}
	hdr.JRank, hdr.MainRank = jRank, mainRank

	isEquiv, err := e.equiv.CheckTip(ctx, m)
	if err != nil {
		return Result{}, errs.Transient(err)
	}
	if isEquiv && !e.cfg.LocalValidator.IsEmpty() && m.GetHeader().ValidatorID.Equal(e.cfg.LocalValidator) {
		fatalErr := errs.Fatal(fmt.Errorf("executor: local validator %s self-equivocated with message %s", e.cfg.LocalValidator.Hex(), m.Hash().Hex()))
		if e.fatal != nil {
			e.fatal(fatalErr)
		}
		return Result{Status: StatusSelfEquivocatedBlock}, fatalErr
	}

	if err := e.store.PutMessage(ctx, m); err != nil {
		return Result{}, errs.Transient(err)
	}

	newLFB, finalized, orphaned, err := e.fin.OnNewMessage(ctx, m)
	if err != nil {
		return Result{}, errs.Transient(err)
	}

	status := StatusValid
	if isEquiv {
		status = StatusEquivocatedBlock
	}
	return Result{Status: status, NewLFB: newLFB, Finalized: finalized, Orphaned: orphaned}, nil
}

// waitForTimestamp implements §4.2 step 1: never accept a message claiming
// to be from the future beyond the configured drift; sleep and retry
// instead of rejecting outright.
func (e *Executor) waitForTimestamp(ctx context.Context, m message.Message) error {
	for {
		ahead := time.Until(m.GetHeader().Timestamp) - e.cfg.ClockDrift
		if ahead <= 0 {
			return nil
		}
		wait := ahead
		if wait > 5*time.Second {
			wait = 5 * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
