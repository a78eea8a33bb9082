// Package config provides a reusable loader for CityRollup configuration
// files and environment variables. It is versioned so that the orchestrator
// and worker binaries can depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/cityrollup/rollup/internal/cityerr"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a CityRollup orchestrator or
// worker process. It mirrors the YAML files under deploy/config.
type Config struct {
	Store struct {
		WALPath          string `mapstructure:"wal_path" json:"wal_path"`
		SnapshotPath     string `mapstructure:"snapshot_path" json:"snapshot_path"`
		SnapshotInterval int    `mapstructure:"snapshot_interval" json:"snapshot_interval"`
	} `mapstructure:"store" json:"store"`

	Tree struct {
		UserTreeHeight       int `mapstructure:"user_tree_height" json:"user_tree_height"`
		DepositTreeHeight    int `mapstructure:"deposit_tree_height" json:"deposit_tree_height"`
		WithdrawalTreeHeight int `mapstructure:"withdrawal_tree_height" json:"withdrawal_tree_height"`
	} `mapstructure:"tree" json:"tree"`

	Worker struct {
		PoolSize       int `mapstructure:"pool_size" json:"pool_size"`
		RetryOnFailure int `mapstructure:"retry_on_failure" json:"retry_on_failure"`
	} `mapstructure:"worker" json:"worker"`

	L1 struct {
		RPCURL              string `mapstructure:"rpc_url" json:"rpc_url"`
		BlockTimeSecs       int    `mapstructure:"block_time_secs" json:"block_time_secs"`
		FeeRetryAttempts    int    `mapstructure:"fee_retry_attempts" json:"fee_retry_attempts"`
		GenesisStateHashHex string `mapstructure:"genesis_state_hash_hex" json:"genesis_state_hash_hex"`
	} `mapstructure:"l1" json:"l1"`

	DevMode struct {
		Groth16Disabled          bool `mapstructure:"groth16_disabled" json:"groth16_disabled"`
		SighashWhitelistDisabled bool `mapstructure:"sighash_whitelist_disabled" json:"sighash_whitelist_disabled"`
	} `mapstructure:"dev_mode" json:"dev_mode"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("deploy/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, cityerr.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, cityerr.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("CITYROLLUP")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, cityerr.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CITYROLLUP_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(envOrDefault("CITYROLLUP_ENV", ""))
}

func envOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func setDefaults() {
	viper.SetDefault("tree.user_tree_height", 17)
	viper.SetDefault("tree.deposit_tree_height", 16)
	viper.SetDefault("tree.withdrawal_tree_height", 16)
	viper.SetDefault("worker.pool_size", 4)
	viper.SetDefault("worker.retry_on_failure", 1)
	viper.SetDefault("l1.block_time_secs", 4)
	viper.SetDefault("l1.fee_retry_attempts", 3)
	viper.SetDefault("dev_mode.groth16_disabled", false)
	viper.SetDefault("dev_mode.sighash_whitelist_disabled", false)
	viper.SetDefault("logging.level", "info")
}
