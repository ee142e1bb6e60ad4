package domain

import "agent-rep/internal/solana"

// AgentType classifies what an agent does. Wire values match the program enum.
type AgentType string

const (
	AgentTypeTrading        AgentType = "Trading"
	AgentTypeDeFi           AgentType = "DeFi"
	AgentTypeNFT            AgentType = "NFT"
	AgentTypeSocial         AgentType = "Social"
	AgentTypeInfrastructure AgentType = "Infrastructure"
	AgentTypeOther          AgentType = "Other"
)

// AgentTypes lists every valid agent type in declaration order.
var AgentTypes = []AgentType{
	AgentTypeTrading,
	AgentTypeDeFi,
	AgentTypeNFT,
	AgentTypeSocial,
	AgentTypeInfrastructure,
	AgentTypeOther,
}

// String returns string representation.
func (t AgentType) String() string {
	return string(t)
}

// IsValid checks if agent type is a known value.
func (t AgentType) IsValid() bool {
	for _, v := range AgentTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Agent is the reputation record held for one owner identity.
type Agent struct {
	Owner       solana.PublicKey // immutable
	Address     solana.PublicKey // derived from ("agent", owner)
	Name        string
	Description string
	AgentType   AgentType

	Stake           uint64 // lamports held in the vault for this agent
	ReputationScore uint8  // 0..100

	TotalActions      uint64
	SuccessfulActions uint64
	TotalVolume       uint64 // sum of action input values

	RegisteredAt int64 // unix seconds
	LastActionAt int64 // unix seconds
	IsActive     bool

	// Revision counts committed mutating transitions. Registration yields 1.
	Revision uint64
}

// CooldownEndsAt returns the earliest time deregistration is allowed.
func (a *Agent) CooldownEndsAt() int64 {
	return a.LastActionAt + CooldownSeconds
}
