// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package finality

// SummitTracker implements the highway summit-level voting period decision
// of DESIGN.md's Open Question 2: votingPeriodSummitLevel selects how many
// consecutive rounds of mutual-visibility committee agreement are required
// before the voting period is considered settled, re-running §4.4's
// committee check once per round rather than once overall.
type SummitTracker struct {
	level           uint8
	consecutiveHits uint8
}

// NewSummitTracker returns a tracker requiring `level` consecutive rounds
// of committee agreement.
func NewSummitTracker(level uint8) *SummitTracker {
	return &SummitTracker{level: level}
}

// Observe records one round's committee-check outcome. It returns true
// once `level` consecutive rounds have each independently committed the
// same candidate (the caller is responsible for passing only same-
// candidate observations in sequence; a branch change should be treated as
// a reset by calling Reset).
func (s *SummitTracker) Observe(committed bool) (reachedSummit bool) {
	if !committed {
		s.consecutiveHits = 0
		return false
	}
	s.consecutiveHits++
	return s.consecutiveHits >= s.level
}

// Reset clears the consecutive-hit counter, used when the voted branch
// changes underneath the tracker.
func (s *SummitTracker) Reset() { s.consecutiveHits = 0 }
