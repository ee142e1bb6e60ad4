package reputation

import (
	"math/bits"
)

// MaxScore is the upper bound of every score.
const MaxScore uint8 = 100

const secondsPerDay = 86400

// Stats are the inputs the score is derived from.
type Stats struct {
	Successful   uint64
	Total        uint64
	Volume       uint64
	RegisteredAt int64
}

// Breakdown holds each score component and their clamped sum.
type Breakdown struct {
	WinRate     uint8 `json:"win_rate_score"`
	Volume      uint8 `json:"volume_score"`
	Age         uint8 `json:"age_score"`
	Consistency uint8 `json:"consistency_score"`
	Total       uint8 `json:"total"`
}

// Engine computes scores with a fixed set of weights.
type Engine struct {
	w Weights
}

// NewEngine validates w and returns an engine using it.
func NewEngine(w Weights) (*Engine, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Engine{w: w}, nil
}

// DefaultEngine uses DefaultWeights.
var DefaultEngine = &Engine{w: DefaultWeights()}

// Weights returns the engine configuration.
func (e *Engine) Weights() Weights {
	return e.w
}

// Score returns the reputation score for s evaluated at now.
func (e *Engine) Score(s Stats, now int64) uint8 {
	return e.Breakdown(s, now).Total
}

// Breakdown returns the individual components for s at now.
// With no actions every component is zero and Total is the neutral score.
func (e *Engine) Breakdown(s Stats, now int64) Breakdown {
	if s.Total == 0 {
		return Breakdown{Total: e.w.NeutralScore}
	}
	b := Breakdown{
		WinRate:     uint8(e.winRateScore(s.Successful, s.Total)),
		Volume:      uint8(e.volumeScore(s.Volume)),
		Age:         uint8(e.ageScore(s.RegisteredAt, now)),
		Consistency: uint8(e.consistencyScore(s.Total)),
	}
	sum := uint64(b.WinRate) + uint64(b.Volume) + uint64(b.Age) + uint64(b.Consistency)
	if sum > uint64(MaxScore) {
		sum = uint64(MaxScore)
	}
	b.Total = uint8(sum)
	return b
}

func (e *Engine) winRateScore(successful, total uint64) uint64 {
	return SuccessRate(successful, total) * e.w.WinRateWeight / 100
}

func (e *Engine) volumeScore(volume uint64) uint64 {
	if volume == 0 {
		return 0
	}
	return capped(uint64(Log10(volume))*e.w.VolumePerDecade, e.w.VolumeCap)
}

func (e *Engine) ageScore(registeredAt, now int64) uint64 {
	return capped(AgeDays(registeredAt, now)/e.w.AgeDaysPerPoint, e.w.AgeCap)
}

func (e *Engine) consistencyScore(total uint64) uint64 {
	return capped(total/e.w.ActionsPerPoint, e.w.ConsistencyCap)
}

// Score computes the score with DefaultWeights.
func Score(successful, total, volume uint64, registeredAt, now int64) uint8 {
	return DefaultEngine.Score(Stats{
		Successful:   successful,
		Total:        total,
		Volume:       volume,
		RegisteredAt: registeredAt,
	}, now)
}

// SuccessRate returns successful*100/total, 0 when total is 0.
// Successful is clamped to total. The product is computed in 128 bits.
func SuccessRate(successful, total uint64) uint64 {
	if total == 0 {
		return 0
	}
	if successful > total {
		successful = total
	}
	hi, lo := bits.Mul64(successful, 100)
	q, _ := bits.Div64(hi, lo, total)
	return q
}

// AgeDays returns whole days between registeredAt and now.
// A now earlier than registeredAt yields 0.
func AgeDays(registeredAt, now int64) uint64 {
	if now <= registeredAt {
		return 0
	}
	// The difference of two int64 values with now > registeredAt fits in uint64.
	return (uint64(now) - uint64(registeredAt)) / secondsPerDay
}

// Log10 returns floor(log10(v)) for v > 0, computed by digit count.
func Log10(v uint64) int {
	n := 0
	for v >= 10 {
		v /= 10
		n++
	}
	return n
}

func capped(v, limit uint64) uint64 {
	if v > limit {
		return limit
	}
	return v
}

// ApplySlashPenalty subtracts penalty from score, saturating at 0.
func ApplySlashPenalty(score, penalty uint8) uint8 {
	if penalty >= score {
		return 0
	}
	return score - penalty
}
