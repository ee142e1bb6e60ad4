package reputation

import (
	"errors"
	"math"
	"testing"
)

const day = int64(86400)

func TestScore(t *testing.T) {
	reg := int64(1_700_000_000)
	tests := []struct {
		name       string
		successful uint64
		total      uint64
		volume     uint64
		now        int64
		want       uint8
	}{
		{"no actions is neutral", 0, 0, 0, reg, 50},
		{"no actions ignores age", 0, 0, 1_000_000, reg + 1000*day, 50},
		{"single success at age zero", 1, 1, 100, reg, 46},
		{"single failure", 0, 1, 100, reg, 6},
		{"half wins", 5, 10, 1000, reg, 20 + 9 + 0 + 1},
		{"volume caps at 30", 10, 10, math.MaxUint64, reg, 40 + 30 + 1},
		{"age grows every 9 days", 1, 1, 0, reg + 18*day, 40 + 2},
		{"age caps at 20", 1, 1, 0, reg + 365*day, 40 + 20},
		{"consistency caps at 10", 500, 500, 0, reg, 40 + 10},
		{"everything maxed", 1000, 1000, 1e12, reg + 200*day, 100},
		{"clock before registration clamps age", 1, 1, 100, reg - 30*day, 46},
		{"volume 9 contributes 0", 1, 1, 9, reg, 40},
		{"volume 10 contributes 3", 1, 1, 10, reg, 43},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.successful, tt.total, tt.volume, reg, tt.now)
			if got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScore_Deterministic(t *testing.T) {
	a := Score(7, 13, 123456, 100, 100+40*day)
	for i := 0; i < 100; i++ {
		if b := Score(7, 13, 123456, 100, 100+40*day); b != a {
			t.Fatalf("Score not deterministic: %d != %d", a, b)
		}
	}
}

func TestScore_Bounded(t *testing.T) {
	for _, total := range []uint64{1, 3, 10, 99, 1 << 40, math.MaxUint64} {
		for _, successful := range []uint64{0, 1, total / 2, total} {
			s := Score(successful, total, math.MaxUint64, math.MinInt64, math.MaxInt64)
			if s > MaxScore {
				t.Errorf("Score(%d,%d) = %d exceeds max", successful, total, s)
			}
		}
	}
}

func TestBreakdown(t *testing.T) {
	b := DefaultEngine.Breakdown(Stats{Successful: 3, Total: 4, Volume: 25_000, RegisteredAt: 0}, 45*day)
	want := Breakdown{WinRate: 30, Volume: 12, Age: 5, Consistency: 0, Total: 47}
	if b != want {
		t.Errorf("Breakdown() = %+v, want %+v", b, want)
	}
}

func TestSuccessRate(t *testing.T) {
	if got := SuccessRate(0, 0); got != 0 {
		t.Errorf("SuccessRate(0,0) = %d", got)
	}
	if got := SuccessRate(1, 3); got != 33 {
		t.Errorf("SuccessRate(1,3) = %d", got)
	}
	if got := SuccessRate(math.MaxUint64, math.MaxUint64); got != 100 {
		t.Errorf("SuccessRate(max,max) = %d", got)
	}
	if got := SuccessRate(5, 2); got != 100 {
		t.Errorf("SuccessRate clamps successful, got %d", got)
	}
}

func TestLog10(t *testing.T) {
	cases := map[uint64]int{1: 0, 9: 0, 10: 1, 99: 1, 100: 2, 999_999: 5, 1_000_000: 6, math.MaxUint64: 19}
	for v, want := range cases {
		if got := Log10(v); got != want {
			t.Errorf("Log10(%d) = %d, want %d", v, got, want)
		}
	}
}

func TestAgeDays(t *testing.T) {
	if got := AgeDays(100, 50); got != 0 {
		t.Errorf("negative age should clamp, got %d", got)
	}
	if got := AgeDays(0, day-1); got != 0 {
		t.Errorf("AgeDays partial day = %d", got)
	}
	if got := AgeDays(math.MinInt64, math.MaxInt64); got != math.MaxUint64/86400 {
		t.Errorf("AgeDays extreme range = %d", got)
	}
}

func TestApplySlashPenalty(t *testing.T) {
	cases := []struct{ score, want uint8 }{{60, 50}, {10, 0}, {5, 0}, {0, 0}, {100, 90}}
	for _, c := range cases {
		if got := ApplySlashPenalty(c.score, 10); got != c.want {
			t.Errorf("ApplySlashPenalty(%d) = %d, want %d", c.score, got, c.want)
		}
	}
}

func TestWeights_Validate(t *testing.T) {
	if err := DefaultWeights().Validate(); err != nil {
		t.Fatalf("default weights invalid: %v", err)
	}

	bad := DefaultWeights()
	bad.VolumeCap = 31
	if err := bad.Validate(); !errors.Is(err, ErrInvalidWeights) {
		t.Errorf("expected ErrInvalidWeights for sum 101, got %v", err)
	}

	bad = DefaultWeights()
	bad.AgeDaysPerPoint = 0
	if _, err := NewEngine(bad); !errors.Is(err, ErrInvalidWeights) {
		t.Errorf("expected ErrInvalidWeights for zero divisor, got %v", err)
	}
}

func TestNewEngine_CustomWeights(t *testing.T) {
	w := Weights{
		WinRateWeight: 70, VolumePerDecade: 1, VolumeCap: 10,
		AgeDaysPerPoint: 1, AgeCap: 10, ActionsPerPoint: 1, ConsistencyCap: 10,
		NeutralScore: 0,
	}
	e, err := NewEngine(w)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if got := e.Score(Stats{}, 0); got != 0 {
		t.Errorf("neutral score = %d, want 0", got)
	}
	// 70 + log10(1000)=3 + 5 days + 2 actions
	if got := e.Score(Stats{Successful: 2, Total: 2, Volume: 1000}, 5*day); got != 80 {
		t.Errorf("Score() = %d, want 80", got)
	}
}
