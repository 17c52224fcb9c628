// Package config loads the YAML topology files described in spec.md §6's
// CLI section (`init --config <yaml>`, `start [--node <id>]`), mirroring
// pkg/config.Load's viper-based loader, trimmed to this network's shape
// and extended with github.com/joho/godotenv for local .env overrides.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// NodeConfig is one network participant: an orderer/endorser (accepts
// inbound connections and is addressed by host:port) or a client/admin
// (outbound-only, so host:port is where it serves its own HTTP surface).
type NodeConfig struct {
	ID   string `mapstructure:"id" json:"id"`
	Role string `mapstructure:"role" json:"role"`
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// Config is the full network topology a `horde init`/`horde start`
// invocation operates on.
type Config struct {
	Peers   []NodeConfig `mapstructure:"peers" json:"peers"`
	Clients []NodeConfig `mapstructure:"clients" json:"clients"`

	Keystore struct {
		Root      string `mapstructure:"root" json:"root"`
		PublicDir string `mapstructure:"public_dir" json:"public_dir"`
	} `mapstructure:"keystore" json:"keystore"`

	Orderer struct {
		MaxTransactionPool               int     `mapstructure:"max_transaction_pool" json:"max_transaction_pool"`
		BlockchainCreationTimeoutSeconds float64 `mapstructure:"blockchain_creation_timeout_seconds" json:"blockchain_creation_timeout_seconds"`
	} `mapstructure:"orderer" json:"orderer"`

	Storage struct {
		DataDir string `mapstructure:"data_dir" json:"data_dir"`
	} `mapstructure:"storage" json:"storage"`

	TLS struct {
		Enabled           bool   `mapstructure:"enabled" json:"enabled"`
		CertFile          string `mapstructure:"cert_file" json:"cert_file"`
		KeyFile           string `mapstructure:"key_file" json:"key_file"`
		RequireClientCert bool   `mapstructure:"require_client_cert" json:"require_client_cert"`
	} `mapstructure:"tls" json:"tls"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`

	HTTP struct {
		Host string `mapstructure:"host" json:"host"`
		Port int    `mapstructure:"port" json:"port"`
	} `mapstructure:"http" json:"http"`
}

const (
	defaultMaxTransactionPool = 10
	defaultBlockTimeoutSecs   = 1.0
)

// Load reads path as YAML, merges an optional .env file from the current
// working directory, and applies automatic environment-variable overrides
// (HORDE_* prefix) the way pkg/config.Load layers SYNN_ENV.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HORDE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	if cfg.Orderer.MaxTransactionPool == 0 {
		cfg.Orderer.MaxTransactionPool = defaultMaxTransactionPool
	}
	if cfg.Orderer.BlockchainCreationTimeoutSeconds == 0 {
		cfg.Orderer.BlockchainCreationTimeoutSeconds = defaultBlockTimeoutSecs
	}
	return &cfg, nil
}

// Node looks up the topology entry for id across both Peers and Clients.
func (c *Config) Node(id string) (NodeConfig, bool) {
	for _, n := range c.Peers {
		if n.ID == id {
			return n, true
		}
	}
	for _, n := range c.Clients {
		if n.ID == id {
			return n, true
		}
	}
	return NodeConfig{}, false
}

// AllNodes returns every configured node, peers first.
func (c *Config) AllNodes() []NodeConfig {
	out := make([]NodeConfig, 0, len(c.Peers)+len(c.Clients))
	out = append(out, c.Peers...)
	out = append(out, c.Clients...)
	return out
}
