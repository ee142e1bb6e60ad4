package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"agent-rep/internal/domain"
	"agent-rep/internal/solana"
)

// ComputeEventID computes a deterministic event id using SHA256.
// Formula: SHA256(type|agent|revision|timestamp|actor)
// Returns hex-encoded hash (64 characters).
//
// Revision is the agent revision after the transition, so two committed
// events for the same agent never share an id.
func ComputeEventID(
	eventType domain.EventType,
	agent solana.PublicKey,
	revision uint64,
	timestamp int64,
	actor solana.PublicKey,
) string {
	data := fmt.Sprintf("%s|%s|%d|%d|%s",
		string(eventType),
		agent.String(),
		revision,
		timestamp,
		actor.String(),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
