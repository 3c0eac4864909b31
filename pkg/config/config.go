// Package config provides a reusable loader for evmforge's node and CLI
// configuration files, layered over environment variables.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"evmforge/pkg/utils"
)

// Config is the unified configuration for an anvilnode instance or a forge
// CLI invocation. It mirrors the structure of the YAML files Load reads.
type Config struct {
	Node struct {
		ListenAddr    string `mapstructure:"listen_addr" json:"listen_addr"`
		RPCEnabled    bool   `mapstructure:"rpc_enabled" json:"rpc_enabled"`
		PipeName      string `mapstructure:"pipe_name" json:"pipe_name"`
		ChainID       uint64 `mapstructure:"chain_id" json:"chain_id"`
		BlockTimeMS   int    `mapstructure:"block_time_ms" json:"block_time_ms"`
		HardforkLabel string `mapstructure:"hardfork" json:"hardfork"`
	} `mapstructure:"node" json:"node"`

	Fork struct {
		DefaultURL      string `mapstructure:"default_url" json:"default_url"`
		BlockNumber     *uint64 `mapstructure:"block_number" json:"block_number"`
		EnableCaching   bool   `mapstructure:"enable_caching" json:"enable_caching"`
		RequestsPerSec  int    `mapstructure:"requests_per_sec" json:"requests_per_sec"`
		CacheAccountCap int    `mapstructure:"cache_account_cap" json:"cache_account_cap"`
	} `mapstructure:"fork" json:"fork"`

	Fees struct {
		BaseFeeChangeDenominator uint64 `mapstructure:"base_fee_change_denominator" json:"base_fee_change_denominator"`
		ElasticityMultiplier     uint64 `mapstructure:"elasticity_multiplier" json:"elasticity_multiplier"`
		HistoryLimit             int    `mapstructure:"history_limit" json:"history_limit"`
	} `mapstructure:"fees" json:"fees"`

	Coverage struct {
		OutputFormat string `mapstructure:"output_format" json:"output_format"`
		OutputPath   string `mapstructure:"output_path" json:"output_path"`
	} `mapstructure:"coverage" json:"coverage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Addr    string `mapstructure:"addr" json:"addr"`
	} `mapstructure:"metrics" json:"metrics"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
func Load(env string) (*Config, error) {
	_ = godotenv.Load(".env")

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("EVMFORGE")

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	applyDefaults(&AppConfig)
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the EVMFORGE_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("EVMFORGE_ENV", ""))
}

// applyDefaults fills in zero-valued fields viper left unset, mirroring the
// Fee Manager's and Fee History service's own built-in defaults so a node
// started with no config file still behaves sensibly.
func applyDefaults(c *Config) {
	if c.Fees.BaseFeeChangeDenominator == 0 {
		c.Fees.BaseFeeChangeDenominator = 8
	}
	if c.Fees.ElasticityMultiplier == 0 {
		c.Fees.ElasticityMultiplier = 2
	}
	if c.Fees.HistoryLimit == 0 {
		c.Fees.HistoryLimit = 2048
	}
	if c.Fork.RequestsPerSec == 0 {
		c.Fork.RequestsPerSec = 10
	}
	if c.Node.ListenAddr == "" {
		c.Node.ListenAddr = "127.0.0.1:8545"
	}
}
