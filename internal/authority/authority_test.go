package authority

import (
	"errors"
	"testing"

	"agent-rep/internal/solana"
)

func TestStatic(t *testing.T) {
	gov := solana.PublicKey{0xAA}
	owner := solana.PublicKey{0x01}
	other := solana.PublicKey{0x02}

	a, err := NewStatic(gov)
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}

	tests := []struct {
		name    string
		check   func() error
		allowed bool
	}{
		{"owner acts for itself", func() error { return a.AuthorizeOwner(owner, owner) }, true},
		{"owner acts for another", func() error { return a.AuthorizeOwner(other, owner) }, false},
		{"zero caller", func() error { return a.AuthorizeOwner(solana.ZeroKey, solana.ZeroKey) }, false},
		{"governance as owner", func() error { return a.AuthorizeOwner(gov, gov) }, false},
		{"governance slashes", func() error { return a.AuthorizeGovernance(gov) }, true},
		{"owner slashes", func() error { return a.AuthorizeGovernance(owner) }, false},
		{"zero slashes", func() error { return a.AuthorizeGovernance(solana.ZeroKey) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check()
			if tt.allowed && err != nil {
				t.Errorf("expected allowed, got %v", err)
			}
			if !tt.allowed && !errors.Is(err, ErrUnauthorized) {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestNewStatic_RejectsZero(t *testing.T) {
	if _, err := NewStatic(solana.ZeroKey); err == nil {
		t.Error("expected error for zero governance key")
	}
}
