// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

// Package highway implements the Era Supervisor & Message Producer of §4.6:
// era tree tracking, lambda/omega round scheduling at 2^roundExponent tick
// boundaries, booking/switch block identification, production gating by era
// phase, and the thread-safe block/ballot builder guarded by its own permit.
package highway

import (
	"fmt"

	"github.com/hwdag/hwnode/dag"
	"github.com/hwdag/hwnode/params"
)

// Phase is where a tick falls within its era's lifecycle.
type Phase uint8

const (
	// PhaseActive is when new blocks may be produced.
	PhaseActive Phase = iota
	// PhaseBooking is the tail of the active phase during which the first
	// produced block is flagged IsBookingBlock, to capture finality-
	// relevant entropy before the era switches.
	PhaseBooking
	// PhaseVoting is when only ballots may be produced.
	PhaseVoting
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseBooking:
		return "booking"
	case PhaseVoting:
		return "voting"
	default:
		return "unknown"
	}
}

// PhaseAt classifies tick within era using the chain spec's booking/voting
// durations: the era's tail of length VotingPeriodDuration is the voting
// phase; the BookingDuration immediately preceding that is the booking
// phase; everything else in [StartTick, EndTick) is the active phase.
func PhaseAt(era *dag.Era, tick uint64, spec params.HighwaySpec) Phase {
	votingTicks := uint64(spec.VotingPeriodDuration().Milliseconds())
	bookingTicks := uint64(spec.BookingDuration().Milliseconds())
	votingStart := era.EndTick - votingTicks
	if tick >= votingStart {
		return PhaseVoting
	}
	bookingStart := votingStart - bookingTicks
	if tick >= bookingStart {
		return PhaseBooking
	}
	return PhaseActive
}

// EraTree tracks the parent/current/child eras the supervisor has active at
// once, per §4.6's "tracks a tree of active eras (parent, current, and
// child during transitions)".
type EraTree struct {
	store  dag.EraStorage
	parent *dag.Era
	current *dag.Era
	child  *dag.Era
}

// NewEraTree returns an EraTree rooted at current, with no parent/child yet.
func NewEraTree(store dag.EraStorage, current *dag.Era) *EraTree {
	return &EraTree{store: store, current: current}
}

func (t *EraTree) Current() *dag.Era { return t.current }
func (t *EraTree) Parent() *dag.Era  { return t.parent }
func (t *EraTree) Child() *dag.Era   { return t.child }

// BeginChild records next as the in-progress child era, created once the
// current era reaches its booking phase (so it can build up bonds/entropy
// ahead of the handoff) but not yet active.
func (t *EraTree) BeginChild(next *dag.Era) error {
	if next.ParentKeyBlockHash != t.current.KeyBlockHash {
		return fmt.Errorf("highway: child era %s does not descend from current era %s", next.KeyBlockHash.Hex(), t.current.KeyBlockHash.Hex())
	}
	t.child = next
	return nil
}

// Advance promotes the child era to current once the current era's
// [StartTick,EndTick) has elapsed, demoting current to parent. Advance is a
// no-op error if there is no pending child.
func (t *EraTree) Advance() error {
	if t.child == nil {
		return fmt.Errorf("highway: no child era to advance to")
	}
	t.parent = t.current
	t.current = t.child
	t.child = nil
	return nil
}

// eraByTick picks the parent/current/child era whose [StartTick,EndTick)
// contains tick, for messages justified against a still-live neighboring
// era during a transition window.
func (t *EraTree) eraByTick(tick uint64) *dag.Era {
	for _, era := range []*dag.Era{t.child, t.current, t.parent} {
		if era == nil {
			continue
		}
		if tick >= era.StartTick && tick < era.EndTick {
			return era
		}
	}
	return nil
}
