package relay

import "math"

// Smoother eases motors toward their targets: an exponential blend
// with a per-cycle step clamp. State is float so that repeated small
// steps keep making progress instead of truncating to zero; rounding
// happens only at the returned goal.
type Smoother struct {
	alpha   float64 // weight of the previous value
	maxStep float64 // ticks per cycle
	state   map[int]float64
}

// NewSmoother returns a smoother with no position state; call Seed
// before the first Step.
func NewSmoother(alpha float64, maxStep int) *Smoother {
	return &Smoother{
		alpha:   alpha,
		maxStep: float64(maxStep),
		state:   make(map[int]float64),
	}
}

// Seed resets the smoother to the motors' actual positions so the
// first frame eases from where the arm really is instead of yanking
// it toward the target.
func (s *Smoother) Seed(positions map[int]int) {
	s.state = make(map[int]float64, len(positions))
	for id, pos := range positions {
		s.state[id] = float64(pos)
	}
}

// Step advances every motor one cycle toward its target and returns
// the goals to write. Motors without a target hold their state;
// motors never seen before adopt their target directly.
func (s *Smoother) Step(targets map[int]int) map[int]int {
	goals := make(map[int]int, len(targets))
	for id, target := range targets {
		prev, ok := s.state[id]
		if !ok {
			s.state[id] = float64(target)
			goals[id] = target
			continue
		}
		applied := s.alpha*prev + (1-s.alpha)*float64(target)
		if delta := applied - prev; delta > s.maxStep {
			applied = prev + s.maxStep
		} else if delta < -s.maxStep {
			applied = prev - s.maxStep
		}
		s.state[id] = applied
		goals[id] = int(math.Round(applied))
	}
	return goals
}

// Position returns the smoother's current float state for a motor.
func (s *Smoother) Position(id int) (float64, bool) {
	pos, ok := s.state[id]
	return pos, ok
}
