package solana

import (
	lru "github.com/hashicorp/golang-lru"
)

// DefaultAddressCacheSize bounds the number of cached derivations.
const DefaultAddressCacheSize = 4096

type derived struct {
	address PublicKey
	bump    uint8
}

type agentKey struct {
	program PublicKey
	owner   PublicKey
}

// AddressCache memoizes agent address derivation. The bump search hashes
// up to 256 candidates, and an owner's address never changes.
type AddressCache struct {
	agents *lru.ARCCache
}

// NewAddressCache creates a cache holding up to size derivations
// (DefaultAddressCacheSize if size <= 0).
func NewAddressCache(size int) (*AddressCache, error) {
	if size <= 0 {
		size = DefaultAddressCacheSize
	}
	agents, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &AddressCache{agents: agents}, nil
}

// AgentAddress returns the cached AgentAddress derivation.
func (c *AddressCache) AgentAddress(programID, owner PublicKey) (PublicKey, uint8, error) {
	key := agentKey{program: programID, owner: owner}
	if v, ok := c.agents.Get(key); ok {
		d := v.(derived)
		return d.address, d.bump, nil
	}
	addr, bump, err := AgentAddress(programID, owner)
	if err != nil {
		return PublicKey{}, 0, err
	}
	c.agents.Add(key, derived{address: addr, bump: bump})
	return addr, bump, nil
}

// Len returns the number of cached entries.
func (c *AddressCache) Len() int { return c.agents.Len() }
