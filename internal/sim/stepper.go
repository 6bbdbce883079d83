package sim

import "time"

// Stepper turns host frame callbacks into a whole number of fixed ticks.
// The first sample only sets the baseline. A frame never runs more than
// maxTicks ticks; the remainder stays in the accumulator for the next frame,
// and a gap longer than maxGap discards the backlog instead of replaying it.
type Stepper struct {
	step     time.Duration
	maxTicks int
	maxGap   time.Duration

	last   time.Time
	primed bool
	acc    time.Duration

	resets  uint64
	dropped time.Duration
}

// NewStepper creates a stepper for the given tick rate.
func NewStepper(tickRate, maxTicks int, maxGap time.Duration) *Stepper {
	if tickRate <= 0 {
		tickRate = 60
	}
	if maxTicks < 1 {
		maxTicks = 1
	}
	return &Stepper{
		step:     time.Second / time.Duration(tickRate),
		maxTicks: maxTicks,
		maxGap:   maxGap,
	}
}

// Advance samples the host clock and returns how many ticks to execute now.
func (s *Stepper) Advance(now time.Time) int {
	if !s.primed {
		s.last = now
		s.primed = true
		return 0
	}

	delta := now.Sub(s.last)
	s.last = now
	if delta <= 0 {
		return 0
	}
	if s.maxGap > 0 && delta > s.maxGap {
		s.resets++
		s.dropped += delta + s.acc
		s.acc = 0
		return 0
	}

	s.acc += delta
	n := int(s.acc / s.step)
	if n > s.maxTicks {
		n = s.maxTicks
	}
	s.acc -= time.Duration(n) * s.step

	// a host that is permanently slower than the tick rate must not build an endless backlog
	if s.maxGap > 0 && s.acc > s.maxGap {
		s.resets++
		s.dropped += s.acc
		s.acc = 0
	}
	return n
}

// Rebase makes the next Advance a baseline sample again.
func (s *Stepper) Rebase() {
	s.primed = false
	s.acc = 0
}

// Alpha is the fraction of a tick left in the accumulator, for render interpolation.
func (s *Stepper) Alpha() float64 {
	return float64(s.acc) / float64(s.step)
}

// Step returns the fixed tick duration.
func (s *Stepper) Step() time.Duration {
	return s.step
}

// Resets returns how many times a clock anomaly discarded the backlog.
func (s *Stepper) Resets() uint64 {
	return s.resets
}

// Dropped returns the host time that was never turned into ticks.
func (s *Stepper) Dropped() time.Duration {
	return s.dropped
}
