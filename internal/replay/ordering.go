package replay

import (
	"fmt"
	"sort"

	"agent-rep/internal/domain"
)

// SortEnvelopes orders envelopes by sequence ascending, then id.
func SortEnvelopes(envs []domain.Envelope) {
	sort.Slice(envs, func(i, j int) bool {
		if envs[i].Sequence != envs[j].Sequence {
			return envs[i].Sequence < envs[j].Sequence
		}
		return envs[i].ID < envs[j].ID
	})
}

// CheckOrdering verifies sequences are positive and strictly increasing
// after the given starting position. Gaps are allowed.
func CheckOrdering(after int64, envs []domain.Envelope) error {
	last := after
	for _, env := range envs {
		if env.Sequence <= 0 {
			return fmt.Errorf("%w: event %s has no sequence", ErrInvalidOrdering, env.ID)
		}
		if env.Sequence <= last {
			return fmt.Errorf("%w: sequence %d after %d", ErrInvalidOrdering, env.Sequence, last)
		}
		last = env.Sequence
	}
	return nil
}
