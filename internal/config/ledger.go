package config

import (
	"agent-rep/internal/authority"
	"agent-rep/internal/ledger"
	"agent-rep/internal/storage"
)

// LedgerOptions returns ledger options over store built from the resolved
// settings. Callers add the clock, publisher and logger.
func (s *Settings) LedgerOptions(store storage.Store) (ledger.Options, error) {
	auth, err := authority.NewStatic(s.Governance...)
	if err != nil {
		return ledger.Options{}, err
	}
	weights := s.Weights
	return ledger.Options{
		Store:     store,
		Authority: auth,
		Weights:   &weights,
		ProgramID: s.ProgramID,
		Treasury:  s.Treasury,
	}, nil
}
