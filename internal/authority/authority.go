// Package authority decides which verified identities may perform owner and
// governance transitions. The two capabilities never overlap: a governance
// key cannot act as an agent owner and an owner key never gains governance.
package authority

import (
	"errors"
	"fmt"

	"agent-rep/internal/solana"
)

// ErrUnauthorized is returned when the caller lacks the capability.
var ErrUnauthorized = errors.New("unauthorized")

// Authority checks capabilities of an already verified caller identity.
type Authority interface {
	// AuthorizeOwner succeeds when caller may act for the agent of owner.
	AuthorizeOwner(caller, owner solana.PublicKey) error
	// AuthorizeGovernance succeeds when caller may slash.
	AuthorizeGovernance(caller solana.PublicKey) error
}

// Static grants governance to a fixed set of keys.
type Static struct {
	governance map[solana.PublicKey]struct{}
}

// NewStatic returns an Authority with the given governance keys.
func NewStatic(governance ...solana.PublicKey) (*Static, error) {
	s := &Static{governance: make(map[solana.PublicKey]struct{}, len(governance))}
	for _, k := range governance {
		if k.IsZero() {
			return nil, errors.New("governance key must not be zero")
		}
		s.governance[k] = struct{}{}
	}
	return s, nil
}

// IsGovernance reports whether k holds the governance capability.
func (s *Static) IsGovernance(k solana.PublicKey) bool {
	_, ok := s.governance[k]
	return ok
}

// AuthorizeOwner implements Authority.
func (s *Static) AuthorizeOwner(caller, owner solana.PublicKey) error {
	if caller.IsZero() {
		return fmt.Errorf("%w: missing caller identity", ErrUnauthorized)
	}
	if caller != owner {
		return fmt.Errorf("%w: caller %s is not owner %s", ErrUnauthorized, caller, owner)
	}
	if s.IsGovernance(caller) {
		return fmt.Errorf("%w: governance key %s cannot act as owner", ErrUnauthorized, caller)
	}
	return nil
}

// AuthorizeGovernance implements Authority.
func (s *Static) AuthorizeGovernance(caller solana.PublicKey) error {
	if caller.IsZero() || !s.IsGovernance(caller) {
		return fmt.Errorf("%w: %s lacks governance capability", ErrUnauthorized, caller)
	}
	return nil
}

var _ Authority = (*Static)(nil)
