package relay

import "testing"

func TestSmoother_StepClamp(t *testing.T) {
	s := NewSmoother(0.8, 200)
	s.Seed(map[int]int{1: 1000})

	// The blend alone would move 400 ticks; the clamp holds it to 200.
	goals := s.Step(map[int]int{1: 3000})
	if goals[1] != 1200 {
		t.Errorf("first step = %d, want 1200", goals[1])
	}
	goals = s.Step(map[int]int{1: 3000})
	if goals[1] != 1400 {
		t.Errorf("second step = %d, want 1400", goals[1])
	}
}

func TestSmoother_Converges(t *testing.T) {
	s := NewSmoother(0.8, 200)
	s.Seed(map[int]int{1: 1000})

	prev := 1000
	reached := false
	for i := 0; i < 200; i++ {
		goals := s.Step(map[int]int{1: 3000})
		pos := goals[1]
		if pos < prev {
			t.Fatalf("step %d moved backwards: %d after %d", i, pos, prev)
		}
		if pos > 3000 {
			t.Fatalf("step %d overshot: %d", i, pos)
		}
		prev = pos
		if pos == 3000 {
			reached = true
			break
		}
	}
	if !reached {
		t.Fatalf("never reached target, stopped at %d", prev)
	}
}

func TestSmoother_SmallGapProgress(t *testing.T) {
	// A 5-tick gap shrinks by 20% per cycle. Integer state would
	// truncate that to zero progress and stall short of the target.
	s := NewSmoother(0.8, 200)
	s.Seed(map[int]int{1: 1000})

	last := 0
	for i := 0; i < 100; i++ {
		last = s.Step(map[int]int{1: 1005})[1]
	}
	if last != 1005 {
		t.Errorf("stalled at %d, want 1005", last)
	}
}

func TestSmoother_DescendsToo(t *testing.T) {
	s := NewSmoother(0.8, 200)
	s.Seed(map[int]int{1: 3000})

	goals := s.Step(map[int]int{1: 1000})
	if goals[1] != 2800 {
		t.Errorf("first step = %d, want 2800", goals[1])
	}

	prev := 2800
	for i := 0; i < 200; i++ {
		pos := s.Step(map[int]int{1: 1000})[1]
		if pos > prev {
			t.Fatalf("step %d moved backwards: %d after %d", i, pos, prev)
		}
		prev = pos
	}
	if prev != 1000 {
		t.Errorf("stopped at %d, want 1000", prev)
	}
}

func TestSmoother_SeedResets(t *testing.T) {
	s := NewSmoother(0.8, 200)
	s.Seed(map[int]int{1: 500})
	s.Step(map[int]int{1: 3000})

	s.Seed(map[int]int{1: 2000})
	pos, ok := s.Position(1)
	if !ok || pos != 2000 {
		t.Errorf("state after reseed = %f, want 2000", pos)
	}
}

func TestSmoother_UnseenMotorAdoptsTarget(t *testing.T) {
	s := NewSmoother(0.8, 200)
	s.Seed(map[int]int{1: 1000})

	goals := s.Step(map[int]int{1: 1000, 9: 2500})
	if goals[9] != 2500 {
		t.Errorf("unseen motor goal = %d, want 2500", goals[9])
	}
}
