package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agent-rep/internal/reputation"
	"agent-rep/internal/solana"
)

// Environment variables read by Load. They override the YAML file.
const (
	EnvProgramID  = "AGENTREP_PROGRAM_ID"
	EnvGovernance = "AGENTREP_GOVERNANCE" // comma-separated keys
	EnvTreasury   = "AGENTREP_TREASURY"
)

// IndexerConfig tunes the archive indexer.
type IndexerConfig struct {
	BatchSize int           `yaml:"batch_size"`
	Interval  time.Duration `yaml:"interval"`
}

// StreamConfig tunes the live event stream.
type StreamConfig struct {
	Buffer       int           `yaml:"buffer"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// File is the YAML configuration layout.
type File struct {
	ProgramID  string                  `yaml:"program_id"`
	Governance []string                `yaml:"governance"`
	Treasury   string                  `yaml:"treasury"`
	Weights    *reputation.Weights     `yaml:"weights"`
	Trust      *reputation.TrustPolicy `yaml:"trust"`
	Indexer    IndexerConfig           `yaml:"indexer"`
	Stream     StreamConfig            `yaml:"stream"`
}

// Settings is the resolved ledger configuration.
type Settings struct {
	ProgramID  solana.PublicKey
	Governance []solana.PublicKey
	Treasury   solana.PublicKey // zero selects the governance address
	Weights    reputation.Weights
	Trust      reputation.TrustPolicy
	Indexer    IndexerConfig
	Stream     StreamConfig
}

// Defaults returns settings with every default applied.
func Defaults() *Settings {
	return &Settings{
		ProgramID: solana.DefaultProgramID,
		Weights:   reputation.DefaultWeights(),
		Trust:     reputation.DefaultTrustPolicy(),
		Indexer:   IndexerConfig{BatchSize: 500, Interval: 2 * time.Second},
		Stream:    StreamConfig{Buffer: 256, PingInterval: 30 * time.Second},
	}
}

// Load reads the YAML file at path, when path is not empty, and then applies
// the AGENTREP_* environment variables.
func Load(path string) (*Settings, error) {
	var f File
	if path != "" {
		fh, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer fh.Close()
		if f, err = Decode(fh); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvProgramID); v != "" {
		f.ProgramID = v
	}
	if v := os.Getenv(EnvGovernance); v != "" {
		f.Governance = splitList(v)
	}
	if v := os.Getenv(EnvTreasury); v != "" {
		f.Treasury = v
	}
	return f.Resolve()
}

// Decode parses a YAML document. Unknown fields are rejected. Weights and
// trust fields left out of the document keep their defaults.
func Decode(r io.Reader) (File, error) {
	weights := reputation.DefaultWeights()
	trust := reputation.DefaultTrustPolicy()
	f := File{Weights: &weights, Trust: &trust}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("decode config: %w", err)
	}
	return f, nil
}

// Resolve parses keys, fills defaults and validates the result.
func (f File) Resolve() (*Settings, error) {
	s := Defaults()

	if f.ProgramID != "" {
		pk, err := solana.ParsePublicKey(f.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("program_id: %w", err)
		}
		s.ProgramID = pk
	}
	for _, g := range f.Governance {
		pk, err := solana.ParsePublicKey(g)
		if err != nil {
			return nil, fmt.Errorf("governance %q: %w", g, err)
		}
		s.Governance = append(s.Governance, pk)
	}
	if f.Treasury != "" {
		pk, err := solana.ParsePublicKey(f.Treasury)
		if err != nil {
			return nil, fmt.Errorf("treasury: %w", err)
		}
		s.Treasury = pk
	}

	if f.Weights != nil {
		s.Weights = *f.Weights
	}
	if err := s.Weights.Validate(); err != nil {
		return nil, err
	}
	if f.Trust != nil {
		s.Trust = *f.Trust
	}
	if err := s.Trust.Validate(); err != nil {
		return nil, fmt.Errorf("trust: %w", err)
	}

	if f.Indexer.BatchSize > 0 {
		s.Indexer.BatchSize = f.Indexer.BatchSize
	}
	if f.Indexer.Interval > 0 {
		s.Indexer.Interval = f.Indexer.Interval
	}
	if f.Stream.Buffer > 0 {
		s.Stream.Buffer = f.Stream.Buffer
	}
	if f.Stream.PingInterval > 0 {
		s.Stream.PingInterval = f.Stream.PingInterval
	}
	return s, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
