package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepper_BaselineSample(t *testing.T) {
	s := NewStepper(60, 5, time.Second)
	assert.Equal(t, 0, s.Advance(testEpoch))
	assert.Equal(t, 1, s.Advance(testEpoch.Add(s.Step())))
}

func TestStepper_CarriesRemainder(t *testing.T) {
	s := NewStepper(60, 5, time.Second)
	s.Advance(testEpoch)

	now := testEpoch.Add(s.Step() / 2)
	assert.Equal(t, 0, s.Advance(now))
	assert.InDelta(t, 0.5, s.Alpha(), 0.01)

	now = now.Add(s.Step() / 2)
	assert.Equal(t, 1, s.Advance(now))
}

func TestStepper_CapsTicksPerFrame(t *testing.T) {
	s := NewStepper(60, 5, time.Second)
	s.Advance(testEpoch)

	now := testEpoch.Add(8 * s.Step())
	assert.Equal(t, 5, s.Advance(now), "capped")

	now = now.Add(s.Step())
	assert.Equal(t, 4, s.Advance(now), "3 carried + 1 new")
}

func TestStepper_GapResetsAccumulator(t *testing.T) {
	s := NewStepper(60, 5, time.Second)
	s.Advance(testEpoch)

	now := testEpoch.Add(10 * time.Second)
	assert.Equal(t, 0, s.Advance(now))
	assert.Equal(t, uint64(1), s.Resets())
	assert.Equal(t, 10*time.Second, s.Dropped())

	assert.Equal(t, 1, s.Advance(now.Add(s.Step())))
}

func TestStepper_ClockGoingBackwards(t *testing.T) {
	s := NewStepper(60, 5, time.Second)
	s.Advance(testEpoch)
	assert.Equal(t, 0, s.Advance(testEpoch.Add(-time.Second)))
	assert.Equal(t, 1, s.Advance(testEpoch.Add(-time.Second).Add(s.Step())))
}

func TestStepper_FrameRateIndependent(t *testing.T) {
	// the same span of host time yields the same ticks at 30, 60 and 144 fps
	for _, fps := range []int{30, 60, 144} {
		s := NewStepper(60, 5, time.Second)
		s.Advance(testEpoch)
		frame := time.Second / time.Duration(fps)
		total := 0
		now := testEpoch
		for i := 0; i < fps*2; i++ {
			now = now.Add(frame)
			total += s.Advance(now)
		}
		assert.InDelta(t, 120, total, 1, "fps %d", fps)
	}
}

func TestStepper_Rebase(t *testing.T) {
	s := NewStepper(60, 5, time.Second)
	s.Advance(testEpoch)
	s.Rebase()
	assert.Equal(t, 0, s.Advance(testEpoch.Add(500*time.Millisecond)))
}
