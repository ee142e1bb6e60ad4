package config

import (
	"github.com/spf13/pflag"
)

// Environment variables used as flag defaults.
const (
	EnvConfigFile    = "AGENTREP_CONFIG"
	EnvPostgresDSN   = "POSTGRES_DSN"
	EnvClickhouseDSN = "CLICKHOUSE_DSN"
	EnvUseMemory     = "AGENTREP_USE_MEMORY"
)

// CommonFlags are the settings every binary accepts.
type CommonFlags struct {
	ConfigPath  string
	PostgresDSN string
	UseMemory   bool
	Migrate     bool
}

// AddFlags registers --config, --postgres-dsn, --use-memory and --migrate.
// Defaults come from the environment.
func (c *CommonFlags) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ConfigPath, "config", Getenv(EnvConfigFile, ""), "YAML configuration file")
	fs.StringVar(&c.PostgresDSN, "postgres-dsn", Getenv(EnvPostgresDSN, ""), "PostgreSQL connection string")
	fs.BoolVar(&c.UseMemory, "use-memory", GetenvBool(EnvUseMemory, false), "use in-memory storage instead of PostgreSQL")
	fs.BoolVar(&c.Migrate, "migrate", true, "apply embedded PostgreSQL migrations on start")
}

// StoreOptions returns the backend selection encoded by the flags.
func (c *CommonFlags) StoreOptions() StoreOptions {
	return StoreOptions{UseMemory: c.UseMemory, PostgresDSN: c.PostgresDSN, Migrate: c.Migrate}
}
