package simulation

import (
	"fmt"
	"math/rand/v2"

	"agent-rep/internal/domain"
	"agent-rep/internal/ledger"
	"agent-rep/internal/solana"
)

var protocols = map[domain.AgentType][]string{
	domain.AgentTypeTrading:        {"jupiter", "orca", "raydium"},
	domain.AgentTypeDeFi:           {"kamino", "marginfi", "solend"},
	domain.AgentTypeNFT:            {"tensor", "magiceden"},
	domain.AgentTypeSocial:         {"dialect"},
	domain.AgentTypeInfrastructure: {"pyth", "switchboard"},
	domain.AgentTypeOther:          {"custom"},
}

var actionsFor = map[domain.AgentType][]domain.ActionType{
	domain.AgentTypeTrading:        {domain.ActionTypeTrade, domain.ActionTypeSwap},
	domain.AgentTypeDeFi:           {domain.ActionTypeLend, domain.ActionTypeBorrow, domain.ActionTypeStake, domain.ActionTypeUnstake},
	domain.AgentTypeNFT:            {domain.ActionTypeMint, domain.ActionTypeBurn, domain.ActionTypeTransfer},
	domain.AgentTypeSocial:         {domain.ActionTypeVote, domain.ActionTypeOther},
	domain.AgentTypeInfrastructure: {domain.ActionTypeOther, domain.ActionTypeTransfer},
	domain.AgentTypeOther:          {domain.ActionTypeOther},
}

// profile is one simulated agent. skill is its probability of a favourable
// outcome.
type profile struct {
	owner     solana.PublicKey
	name      string
	agentType domain.AgentType
	stake     uint64
	skill     float64
	active    bool
}

func newProfile(rng *rand.Rand, i int) *profile {
	var owner solana.PublicKey
	for j := range owner {
		owner[j] = byte(rng.UintN(256))
	}
	t := domain.AgentTypes[rng.IntN(len(domain.AgentTypes))]
	return &profile{
		owner:     owner,
		name:      fmt.Sprintf("sim-%s-%02d", t, i),
		agentType: t,
		stake:     1_000_000 * (1 + rng.Uint64N(100)),
		skill:     0.2 + 0.7*rng.Float64(),
		active:    true,
	}
}

// nextAction draws an action. Value-moving outcomes carry an output that
// agrees with the outcome.
func (p *profile) nextAction(rng *rand.Rand) ledger.ActionParams {
	types := actionsFor[p.agentType]
	protos := protocols[p.agentType]
	input := 10_000 + rng.Uint64N(10_000_000)
	good := rng.Float64() < p.skill

	params := ledger.ActionParams{
		ActionType: types[rng.IntN(len(types))],
		Protocol:   protos[rng.IntN(len(protos))],
		InputValue: input,
	}
	switch {
	case p.agentType == domain.AgentTypeTrading && good:
		params.Outcome = domain.OutcomeProfit
		params.OutputValue = input + input*rng.Uint64N(30)/100 + 1
	case p.agentType == domain.AgentTypeTrading:
		params.Outcome = domain.OutcomeLoss
		params.OutputValue = input - input*(1+rng.Uint64N(40))/100
	case good:
		params.Outcome = domain.OutcomeSuccess
		params.OutputValue = input
	case rng.IntN(4) == 0:
		params.Outcome = domain.OutcomeNeutral
		params.OutputValue = input
	default:
		params.Outcome = domain.OutcomeFailure
	}
	return params
}
