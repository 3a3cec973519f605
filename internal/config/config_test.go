package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a Config that passes Validate, for tests to mutate.
func validConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Database.User = "bioseq"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "server port zero",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantSub: "server.port",
		},
		{
			name:    "server port too large",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantSub: "server.port",
		},
		{
			name:    "bad server mode",
			mutate:  func(c *Config) { c.Server.Mode = "production" },
			wantSub: "server.mode",
		},
		{
			name:    "missing database host",
			mutate:  func(c *Config) { c.Database.Host = "" },
			wantSub: "database.host",
		},
		{
			name:    "missing database user",
			mutate:  func(c *Config) { c.Database.User = "" },
			wantSub: "database.user",
		},
		{
			name:    "missing redis addr",
			mutate:  func(c *Config) { c.Redis.Addr = "" },
			wantSub: "redis.addr",
		},
		{
			name:    "negative redis db",
			mutate:  func(c *Config) { c.Redis.DB = -1 },
			wantSub: "redis.db",
		},
		{
			name:    "no kafka brokers",
			mutate:  func(c *Config) { c.Kafka.Brokers = nil },
			wantSub: "kafka.brokers",
		},
		{
			name:    "missing kafka group",
			mutate:  func(c *Config) { c.Kafka.GroupID = "" },
			wantSub: "kafka.group_id",
		},
		{
			name:    "unknown alphabet",
			mutate:  func(c *Config) { c.Encoding.Alphabet = "klingon" },
			wantSub: "encoding.alphabet",
		},
		{
			name:    "zero energy values",
			mutate:  func(c *Config) { c.Encoding.EnergyValues = -1 },
			wantSub: "encoding.energy_values",
		},
		{
			name: "window order exceeds dna alphabet",
			mutate: func(c *Config) {
				c.Encoding.Alphabet = "dna"
				c.Encoding.MutualInformationEnergy = 5
			},
			wantSub: "encoding.mutual_information_energy",
		},
		{
			name:    "window order exceeds protein alphabet",
			mutate:  func(c *Config) { c.Encoding.MutualInformationEnergy = 21 },
			wantSub: "encoding.mutual_information_energy",
		},
		{
			name:    "max sequence length too small",
			mutate:  func(c *Config) { c.Encoding.MaxSequenceLength = 1 },
			wantSub: "encoding.max_sequence_length",
		},
		{
			name:    "missing milvus addr",
			mutate:  func(c *Config) { c.Milvus.Addr = "" },
			wantSub: "milvus.addr",
		},
		{
			name: "auth enabled without keys",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.APIKeys = nil
			},
			wantSub: "auth.api_keys",
		},
		{
			name:    "zero worker concurrency",
			mutate:  func(c *Config) { c.Worker.Concurrency = -2 },
			wantSub: "worker.concurrency",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantSub: "log.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantSub: "log.format",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantSub)
		})
	}
}

func TestValidate_ProteinWindowOrderUpperBound(t *testing.T) {
	cfg := validConfig()
	cfg.Encoding.MutualInformationEnergy = 20 // C(20, 20) window, legal
	assert.NoError(t, cfg.Validate())
}

func TestValidate_AuthDisabledNeedsNoKeys(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Enabled = false
	cfg.Auth.APIKeys = nil
	assert.NoError(t, cfg.Validate())
}
