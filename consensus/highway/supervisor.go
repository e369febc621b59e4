// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package highway

import (
	"context"
	"sync"
	"time"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/consensus/finality"
	"github.com/hwdag/hwnode/consensus/forkchoice"
	"github.com/hwdag/hwnode/dag"
	"github.com/hwdag/hwnode/log"
	"github.com/hwdag/hwnode/params"
)

// Supervisor owns the era tree, round scheduler, and message producer,
// gating production by era phase (§4.6): blocks only in the active phase,
// ballots only in the voting phase; the booking block is the first block
// produced once the active phase reaches its booking tail, the switch
// block the last one produced before the voting phase begins.
type Supervisor struct {
	tree      *EraTree
	scheduler *Scheduler
	producer  *Producer
	fc        *forkchoice.ForkChoice
	spec      params.HighwaySpec
	self      common.PublicKey

	mu             sync.Mutex
	bookingClaimed bool

	// summit implements Open Question decision 2 (DESIGN.md): the voting
	// period ends once votingPeriodSummitLevel consecutive voting-phase
	// ballots (the lambda and the omega ballot of a round each count once)
	// observe a committee-check hit. A ballot's Result.NewLFB advancing is
	// taken as that ballot's hit, reusing the finalization the executor
	// already computes rather than building a second committee-check path.
	summit               *finality.SummitTracker
	votingPeriodComplete bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewSupervisor wires a Supervisor around an already-constructed tree,
// producer, and fork choice; the scheduler is built internally so its
// callbacks can close over the supervisor's gating logic.
func NewSupervisor(tree *EraTree, producer *Producer, fc *forkchoice.ForkChoice, spec params.HighwaySpec, highway params.HighwayConfig, self common.PublicKey, genesisTime time.Time) *Supervisor {
	s := &Supervisor{
		tree: tree, producer: producer, fc: fc, spec: spec, self: self,
		summit: finality.NewSummitTracker(spec.VotingPeriodSummitLevel),
	}
	s.scheduler = NewScheduler(genesisTime, highway.InitRoundExponent, highway.OmegaMessageTimeStart, highway.OmegaMessageTimeEnd, s.onLambda, s.onOmega)
	s.scheduler.SetEra(tree.Current())
	return s
}

// VotingPeriodComplete reports whether the current era's voting period has
// reached its required summit, signalling that the caller may build the
// next era and call AdvanceEra once it does.
func (s *Supervisor) VotingPeriodComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.votingPeriodComplete
}

func (s *Supervisor) observeVotingRound(committed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summit.Observe(committed) {
		s.votingPeriodComplete = true
	}
}

// Start runs the round scheduler in the background until Stop is called.
// Grounded on the teacher's Engine.Start/Stop goroutine-plus-WaitGroup
// shutdown idiom.
func (s *Supervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("highway: round scheduler stopped", "error", err)
		}
	}()
}

// Stop cancels the round loop and waits for it to exit.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// AdvanceEra promotes next to the current era (see EraTree.BeginChild then
// Advance) and repoints the scheduler at it.
func (s *Supervisor) AdvanceEra() error {
	if err := s.tree.Advance(); err != nil {
		return err
	}
	s.mu.Lock()
	s.bookingClaimed = false
	s.votingPeriodComplete = false
	s.mu.Unlock()
	s.summit.Reset()
	s.scheduler.SetEra(s.tree.Current())
	return nil
}

func (s *Supervisor) onLambda(ctx context.Context, roundIdx uint64, leader common.PublicKey) {
	era := s.tree.Current()
	tick := RoundStart(era, roundIdx, s.scheduler.exponent)
	phase := PhaseAt(era, tick, s.spec)

	head, err := s.fc.Choice(ctx, era.KeyBlockHash, era.Bonds)
	if err != nil {
		log.Error("highway: fork choice failed", "round", roundIdx, "error", err)
		return
	}

	if phase == PhaseVoting {
		_, res, err := s.producer.Ballot(ctx, era.KeyBlockHash, roundIdx, head, nil)
		if err != nil {
			log.Warn("highway: voting-phase ballot failed", "round", roundIdx, "error", err)
			return
		}
		s.observeVotingRound(res.NewLFB != nil)
		return
	}

	if !leader.Equal(s.self) {
		if _, _, err := s.producer.Ballot(ctx, era.KeyBlockHash, roundIdx, head, nil); err != nil {
			log.Warn("highway: lambda-response ballot failed", "round", roundIdx, "error", err)
		}
		return
	}

	isBooking := phase == PhaseBooking && s.claimBooking()
	isSwitch := phase == PhaseActive && s.isLastActiveRound(era, roundIdx)
	if _, _, err := s.producer.Block(ctx, era.KeyBlockHash, roundIdx, head, nil, isBooking, isSwitch, nil); err != nil {
		log.Error("highway: block production failed", "round", roundIdx, "error", err)
	}
}

func (s *Supervisor) onOmega(ctx context.Context, roundIdx uint64) {
	era := s.tree.Current()
	tick := RoundStart(era, roundIdx, s.scheduler.exponent)
	phase := PhaseAt(era, tick, s.spec)

	head, err := s.fc.Choice(ctx, era.KeyBlockHash, era.Bonds)
	if err != nil {
		log.Error("highway: fork choice failed for omega", "round", roundIdx, "error", err)
		return
	}
	_, res, err := s.producer.Ballot(ctx, era.KeyBlockHash, roundIdx, head, nil)
	if err != nil {
		log.Warn("highway: omega ballot failed", "round", roundIdx, "error", err)
		return
	}
	if phase == PhaseVoting {
		s.observeVotingRound(res.NewLFB != nil)
	}
}

// claimBooking reports whether this call is the first to reach the booking
// phase in the current era, flagging exactly one block IsBookingBlock.
func (s *Supervisor) claimBooking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bookingClaimed {
		return false
	}
	s.bookingClaimed = true
	return true
}

func (s *Supervisor) isLastActiveRound(era *dag.Era, roundIdx uint64) bool {
	next := RoundStart(era, roundIdx+1, s.scheduler.exponent)
	return PhaseAt(era, next, s.spec) != PhaseActive
}
