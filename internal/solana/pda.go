package solana

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

// Seed limits enforced by the runtime.
const (
	MaxSeeds      = 16
	MaxSeedLength = 32
)

const pdaMarker = "ProgramDerivedAddress"

// Seed prefixes used by the reputation program.
var (
	AgentSeed      = []byte("agent")
	ActionSeed     = []byte("action")
	VaultSeed      = []byte("vault")
	GovernanceSeed = []byte("governance")
)

// DefaultProgramID is the deployed reputation program.
var DefaultProgramID = MustParsePublicKey("AgntRep1111111111111111111111111111111111111")

var (
	// ErrMaxSeedLengthExceeded is returned for too many or too long seeds.
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	// ErrInvalidSeeds is returned when a seed set hashes to an on-curve point.
	ErrInvalidSeeds = errors.New("provided seeds do not result in a valid address")
	// ErrNoViableBump is returned when no bump yields an off-curve address.
	ErrNoViableBump = errors.New("unable to find a viable program address bump seed")
)

// CreateProgramAddress hashes seeds with the program ID. The result must lie
// off the ed25519 curve so that no private key exists for it.
func CreateProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, error) {
	if len(seeds) > MaxSeeds {
		return PublicKey{}, ErrMaxSeedLengthExceeded
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return PublicKey{}, ErrMaxSeedLengthExceeded
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var out PublicKey
	copy(out[:], h.Sum(nil))
	if IsOnCurve(out[:]) {
		return PublicKey{}, ErrInvalidSeeds
	}
	return out, nil
}

// FindProgramAddress searches bump seeds from 255 down and returns the first
// off-curve address together with its bump.
func FindProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return PublicKey{}, 0, ErrMaxSeedLengthExceeded
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			return PublicKey{}, 0, err
		}
	}
	return PublicKey{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether point decodes as an ed25519 curve point.
func IsOnCurve(point []byte) bool {
	if len(point) != PublicKeyLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// AgentAddress derives the account address of the agent owned by owner.
func AgentAddress(programID, owner PublicKey) (PublicKey, uint8, error) {
	return FindProgramAddress([][]byte{AgentSeed, owner[:]}, programID)
}

// ActionAddress derives the address of the action at index for agent.
func ActionAddress(programID, agent PublicKey, index uint64) (PublicKey, uint8, error) {
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], index)
	return FindProgramAddress([][]byte{ActionSeed, agent[:], idx[:]}, programID)
}

// VaultAddress derives the program stake vault.
func VaultAddress(programID PublicKey) (PublicKey, uint8, error) {
	return FindProgramAddress([][]byte{VaultSeed}, programID)
}

// GovernanceAddress derives the governance configuration account.
func GovernanceAddress(programID PublicKey) (PublicKey, uint8, error) {
	return FindProgramAddress([][]byte{GovernanceSeed}, programID)
}

// MustAddress unwraps a derivation result. Derivation only fails for
// malformed seeds, which the helpers above never produce.
func MustAddress(addr PublicKey, _ uint8, err error) PublicKey {
	if err != nil {
		panic(fmt.Sprintf("derive address: %v", err))
	}
	return addr
}
