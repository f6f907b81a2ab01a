package schedule_test

import (
	"testing"
	"time"

	"github.com/torosent/crankloop/internal/schedule"
)

func TestRampDelayLinear(t *testing.T) {
	rampUp := 10 * time.Second
	for i := 0; i < 10; i++ {
		got := schedule.RampDelay(i, 10, rampUp, 0)
		want := time.Duration(i) * time.Second
		if got != want {
			t.Errorf("RampDelay(%d) = %s, want %s", i, got, want)
		}
	}
}

func TestRampDelayBoundedAndMonotonic(t *testing.T) {
	configs := []struct {
		total  int
		rampUp time.Duration
		steps  int
	}{
		{1, time.Minute, 0},
		{7, 3 * time.Second, 0},
		{13, 90 * time.Second, 4},
		{100, 10 * time.Second, 3},
		{3, time.Second, 1000},
		{1000, 24 * time.Hour, 7},
	}
	for _, cfg := range configs {
		prev := time.Duration(-1)
		for i := 0; i < cfg.total; i++ {
			got := schedule.RampDelay(i, cfg.total, cfg.rampUp, cfg.steps)
			if got < 0 || got > cfg.rampUp {
				t.Fatalf("RampDelay(%d, %+v) = %s out of range", i, cfg, got)
			}
			if got < prev {
				t.Fatalf("RampDelay(%d, %+v) = %s decreased from %s", i, cfg, got, prev)
			}
			if cfg.steps > 0 {
				granularity := cfg.rampUp / time.Duration(cfg.steps)
				if got%granularity != 0 {
					t.Fatalf("RampDelay(%d, %+v) = %s not a multiple of %s", i, cfg, got, granularity)
				}
			}
			prev = got
		}
	}
}

func TestRampDelayStepsFormCohorts(t *testing.T) {
	delays := schedule.LaneDelays(0, 50, 50, 60*time.Second, 5)
	distinct := map[time.Duration]int{}
	for _, d := range delays {
		if d%(12*time.Second) != 0 {
			t.Fatalf("delay %s is not a multiple of 12s", d)
		}
		distinct[d]++
	}
	if len(distinct) != 5 {
		t.Fatalf("got %d distinct delays, want 5: %v", len(distinct), distinct)
	}
	for d, n := range distinct {
		if n != 10 {
			t.Errorf("cohort %s has %d lanes, want 10", d, n)
		}
	}
}

func TestRampDelayUsesGlobalIndex(t *testing.T) {
	whole := schedule.LaneDelays(0, 8, 8, 8*time.Second, 0)
	first := schedule.LaneDelays(0, 4, 8, 8*time.Second, 0)
	second := schedule.LaneDelays(4, 4, 8, 8*time.Second, 0)
	joined := append(append([]time.Duration{}, first...), second...)
	for i := range whole {
		if whole[i] != joined[i] {
			t.Fatalf("lane %d: split delay %s != whole-run delay %s", i, joined[i], whole[i])
		}
	}
}

func TestRampDelayWithoutRampUp(t *testing.T) {
	if got := schedule.RampDelay(5, 10, 0, 3); got != 0 {
		t.Fatalf("RampDelay without ramp-up = %s, want 0", got)
	}
}
