// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package highway

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/dag"
	"github.com/hwdag/hwnode/message"
)

// RoundLength returns 2^exponent, the round length in ticks (spec §4.6,
// seed scenario S6).
func RoundLength(exponent uint8) uint64 { return uint64(1) << exponent }

// RoundIndexAt returns the index of the round containing tick, relative to
// era.StartTick.
func RoundIndexAt(era *dag.Era, tick uint64, exponent uint8) uint64 {
	if tick < era.StartTick {
		return 0
	}
	return (tick - era.StartTick) / RoundLength(exponent)
}

// RoundStart returns the first tick of round roundIndex within era.
func RoundStart(era *dag.Era, roundIndex uint64, exponent uint8) uint64 {
	return era.StartTick + roundIndex*RoundLength(exponent)
}

// OmegaWindow returns the half-open tick window
// [roundStart + omegaStart*roundLen, roundStart + omegaEnd*roundLen) an
// omega ballot may fire in, per §4.6 and seed scenario S6.
func OmegaWindow(roundStart uint64, exponent uint8, omegaStart, omegaEnd float64) (uint64, uint64) {
	rl := float64(RoundLength(exponent))
	return roundStart + uint64(omegaStart*rl), roundStart + uint64(omegaEnd*rl)
}

// Leader returns the validator selected to propose in roundIndex, by
// weighted round-robin over era.LeaderSeed and era.Bonds: bonds sorted by
// validator id for determinism, a selection value derived from
// blake2b(leaderSeed || roundIndex) mod totalStake, then the first bond
// whose cumulative stake exceeds that value.
func Leader(era *dag.Era, roundIndex uint64) (common.PublicKey, error) {
	if len(era.Bonds) == 0 {
		return nil, fmt.Errorf("highway: era %s has no bonds", era.KeyBlockHash.Hex())
	}
	bonds := append([]message.Bond(nil), era.Bonds...)
	sort.Slice(bonds, func(i, j int) bool {
		return string(bonds[i].Validator) < string(bonds[j].Validator)
	})

	var total uint64
	for _, b := range bonds {
		total += b.Stake
	}
	if total == 0 {
		return nil, fmt.Errorf("highway: era %s has zero total stake", era.KeyBlockHash.Hex())
	}

	seedBytes := make([]byte, 16)
	big.NewInt(0).SetUint64(era.LeaderSeed).FillBytes(seedBytes[:8])
	big.NewInt(0).SetUint64(roundIndex).FillBytes(seedBytes[8:])
	selection := message.ContentHash(seedBytes)
	value := new(big.Int).Mod(new(big.Int).SetBytes(selection.Bytes()), new(big.Int).SetUint64(total)).Uint64()

	var cumulative uint64
	for _, b := range bonds {
		cumulative += b.Stake
		if value < cumulative {
			return b.Validator, nil
		}
	}
	return bonds[len(bonds)-1].Validator, nil
}

// LambdaFunc is called once per round at the round's start tick, naming the
// round's leader.
type LambdaFunc func(ctx context.Context, roundIndex uint64, leader common.PublicKey)

// OmegaFunc is called once per round at a tick inside the omega window.
type OmegaFunc func(ctx context.Context, roundIndex uint64)

// Scheduler fires LambdaFunc/OmegaFunc at the tick boundaries of §4.6,
// translating ticks to wall-clock time via genesisTime (tick 0). Grounded
// on the teacher's slotTicker/slotProcessor goroutine-pair idiom, adapted
// from fixed-interval slots to era-relative, exponentially-sized rounds.
type Scheduler struct {
	genesisTime time.Time
	exponent    uint8
	omegaStart  float64
	omegaEnd    float64
	onLambda    LambdaFunc
	onOmega     OmegaFunc

	mu  sync.Mutex
	era *dag.Era
}

// NewScheduler returns a Scheduler ticking from genesisTime (tick 0 in
// wall-clock terms); the era it schedules against is set with SetEra.
func NewScheduler(genesisTime time.Time, exponent uint8, omegaStart, omegaEnd float64, onLambda LambdaFunc, onOmega OmegaFunc) *Scheduler {
	return &Scheduler{
		genesisTime: genesisTime,
		exponent:    exponent,
		omegaStart:  omegaStart,
		omegaEnd:    omegaEnd,
		onLambda:    onLambda,
		onOmega:     onOmega,
	}
}

// SetEra swaps the era the scheduler ticks against; the next loop iteration
// picks it up. Used by the Supervisor on era transitions.
func (s *Scheduler) SetEra(era *dag.Era) {
	s.mu.Lock()
	s.era = era
	s.mu.Unlock()
}

func (s *Scheduler) currentEra() *dag.Era {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.era
}

func (s *Scheduler) tickAt(t time.Time) uint64 {
	d := t.Sub(s.genesisTime)
	if d < 0 {
		return 0
	}
	return uint64(d.Milliseconds())
}

func (s *Scheduler) timeAtTick(tick uint64) time.Time {
	return s.genesisTime.Add(time.Duration(tick) * time.Millisecond)
}

// Run drives the round loop until ctx is cancelled: each iteration sleeps
// until the next round's start tick, fires onLambda, schedules a timer for
// a random tick inside that round's omega window, and repeats.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		era := s.currentEra()
		if era == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		now := s.tickAt(time.Now())
		roundIdx := RoundIndexAt(era, now, s.exponent)
		roundStart := RoundStart(era, roundIdx, s.exponent)
		if roundStart < now {
			roundIdx++
			roundStart = RoundStart(era, roundIdx, s.exponent)
		}
		if roundStart >= era.EndTick {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		if err := s.sleepUntil(ctx, roundStart); err != nil {
			return err
		}

		leader, err := Leader(era, roundIdx)
		if err != nil {
			return fmt.Errorf("highway: select leader for round %d: %w", roundIdx, err)
		}
		if s.onLambda != nil {
			s.onLambda(ctx, roundIdx, leader)
		}

		omegaLo, omegaHi := OmegaWindow(roundStart, s.exponent, s.omegaStart, s.omegaEnd)
		omegaTick, err := randomTickIn(omegaLo, omegaHi)
		if err != nil {
			return err
		}
		go s.fireOmega(ctx, roundIdx, omegaTick)
	}
}

func (s *Scheduler) fireOmega(ctx context.Context, roundIdx uint64, tick uint64) {
	if err := s.sleepUntil(ctx, tick); err != nil {
		return
	}
	if s.onOmega != nil {
		s.onOmega(ctx, roundIdx)
	}
}

func (s *Scheduler) sleepUntil(ctx context.Context, tick uint64) error {
	wait := time.Until(s.timeAtTick(tick))
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomTickIn(lo, hi uint64) (uint64, error) {
	if hi <= lo {
		return lo, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo)))
	if err != nil {
		return 0, fmt.Errorf("highway: random omega tick: %w", err)
	}
	return lo + n.Uint64(), nil
}
