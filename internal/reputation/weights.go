// Package reputation computes the 0-100 trust score of an agent from its
// activity counters. All arithmetic is integer and truncating.
package reputation

import (
	"errors"
	"fmt"
)

// ErrInvalidWeights is returned by Validate.
var ErrInvalidWeights = errors.New("invalid reputation weights")

// Weights holds the score formula constants.
//
// The four component caps must sum to 100 so the unclamped score never
// exceeds the maximum.
type Weights struct {
	// WinRateWeight scales the win rate percentage: win_rate*W/100.
	WinRateWeight uint64 `json:"win_rate_weight" yaml:"win_rate_weight"`

	// VolumePerDecade points per order of magnitude of total volume.
	VolumePerDecade uint64 `json:"volume_per_decade" yaml:"volume_per_decade"`
	VolumeCap       uint64 `json:"volume_cap" yaml:"volume_cap"`

	// AgeDaysPerPoint days of age needed per point.
	AgeDaysPerPoint uint64 `json:"age_days_per_point" yaml:"age_days_per_point"`
	AgeCap          uint64 `json:"age_cap" yaml:"age_cap"`

	// ActionsPerPoint actions needed per consistency point.
	ActionsPerPoint uint64 `json:"actions_per_point" yaml:"actions_per_point"`
	ConsistencyCap  uint64 `json:"consistency_cap" yaml:"consistency_cap"`

	// NeutralScore is returned when the agent has no actions.
	NeutralScore uint8 `json:"neutral_score" yaml:"neutral_score"`
}

// DefaultWeights returns the 40/30/20/10 formula.
func DefaultWeights() Weights {
	return Weights{
		WinRateWeight:   40,
		VolumePerDecade: 3,
		VolumeCap:       30,
		AgeDaysPerPoint: 9,
		AgeCap:          20,
		ActionsPerPoint: 10,
		ConsistencyCap:  10,
		NeutralScore:    50,
	}
}

// Validate checks divisors are non-zero and caps sum to 100.
func (w Weights) Validate() error {
	if w.AgeDaysPerPoint == 0 {
		return fmt.Errorf("%w: age_days_per_point must be > 0", ErrInvalidWeights)
	}
	if w.ActionsPerPoint == 0 {
		return fmt.Errorf("%w: actions_per_point must be > 0", ErrInvalidWeights)
	}
	if w.NeutralScore > MaxScore {
		return fmt.Errorf("%w: neutral_score %d exceeds %d", ErrInvalidWeights, w.NeutralScore, MaxScore)
	}
	sum := w.WinRateWeight + w.VolumeCap + w.AgeCap + w.ConsistencyCap
	if w.WinRateWeight > 100 || w.VolumeCap > 100 || w.AgeCap > 100 || w.ConsistencyCap > 100 || sum != 100 {
		return fmt.Errorf("%w: component caps sum to %d, want 100", ErrInvalidWeights, sum)
	}
	return nil
}
