// Package config loads engine bootstrap configuration via viper, mirroring
// the reference codebase's pkg/config convention of a mapstructure-tagged
// struct merged from a base YAML file plus an optional per-environment
// overlay and environment variables.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/Julesc013/dominium-sub002/internal/utils"
)

const Version = "v0.1.0"

// Config is the engine's bootstrap configuration (spec §6 operations surface
// plus the ambient stack named in SPEC_FULL.md §2).
type Config struct {
	Engine struct {
		Seed          uint64 `mapstructure:"seed" json:"seed"`
		TickBatchSize uint32 `mapstructure:"tick_batch_size" json:"tick_batch_size"`
		ChunkCacheMax int    `mapstructure:"chunk_cache_max" json:"chunk_cache_max"`
	} `mapstructure:"engine" json:"engine"`

	Subsystems struct {
		Enabled map[string]bool `mapstructure:"enabled" json:"enabled"`
	} `mapstructure:"subsystems" json:"subsystems"`

	Content struct {
		PackPaths []string `mapstructure:"pack_paths" json:"pack_paths"`
	} `mapstructure:"content" json:"content"`

	Storage struct {
		SaveDir string `mapstructure:"save_dir" json:"save_dir"`
	} `mapstructure:"storage" json:"storage"`

	Replay struct {
		Mode string `mapstructure:"mode" json:"mode"`
	} `mapstructure:"replay" json:"replay"`

	API struct {
		Enabled    bool   `mapstructure:"enabled" json:"enabled"`
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"api" json:"api"`

	NetInput struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Topic   string `mapstructure:"topic" json:"topic"`
	} `mapstructure:"netinput" json:"netinput"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

var AppConfig Config

// Load reads config/default.yaml, then merges config/<env>.yaml over it if
// env is non-empty, then applies matching environment variables.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/domino/config")
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
	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads config using the environment named by DOMINO_ENV, if set.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("DOMINO_ENV", ""))
}
