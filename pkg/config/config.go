package config

// Package config provides a reusable loader for syncmesh configuration
// files and environment variables.

import (
	"time"

	"github.com/spf13/viper"

	"syncmesh/core"
	"syncmesh/pkg/utils"
)

// Config mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Node struct {
		Username string `mapstructure:"username" json:"username" yaml:"username"`
		Host     string `mapstructure:"host" json:"host" yaml:"host"`
		Port     int    `mapstructure:"port" json:"port" yaml:"port"`
		DataRoot string `mapstructure:"data_root" json:"data_root" yaml:"data_root"`
	} `mapstructure:"node" json:"node" yaml:"node"`

	Network struct {
		BootstrapAddr     string `mapstructure:"bootstrap_addr" json:"bootstrap_addr" yaml:"bootstrap_addr"`
		ConnectTimeoutS   int    `mapstructure:"connect_timeout_s" json:"connect_timeout_s" yaml:"connect_timeout_s"`
		DownloadTimeoutS  int    `mapstructure:"download_timeout_s" json:"download_timeout_s" yaml:"download_timeout_s"`
		ChunkSize         int    `mapstructure:"chunk_size" json:"chunk_size" yaml:"chunk_size"`
		MaxConns          int    `mapstructure:"max_conns" json:"max_conns" yaml:"max_conns"`
		WatcherIntervalMS int    `mapstructure:"watcher_interval_ms" json:"watcher_interval_ms" yaml:"watcher_interval_ms"`
	} `mapstructure:"network" json:"network" yaml:"network"`

	API struct {
		Addr string `mapstructure:"addr" json:"addr" yaml:"addr"`
	} `mapstructure:"api" json:"api" yaml:"api"`

	Logging struct {
		Level string `mapstructure:"level" json:"level" yaml:"level"`
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
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
			return nil, utils.Wrap(err, "merge "+env+" config")
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the MESH_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("MESH_ENV", ""))
}

// Core converts the file/env configuration into a core.Config.
func (c *Config) Core() core.Config {
	return core.Config{
		ListenHost:      c.Node.Host,
		ListenPort:      c.Node.Port,
		Username:        c.Node.Username,
		DataRoot:        c.Node.DataRoot,
		BootstrapAddr:   c.Network.BootstrapAddr,
		APIAddr:         c.API.Addr,
		ChunkSize:       c.Network.ChunkSize,
		MaxConns:        c.Network.MaxConns,
		ConnectTimeout:  time.Duration(c.Network.ConnectTimeoutS) * time.Second,
		DownloadTimeout: time.Duration(c.Network.DownloadTimeoutS) * time.Second,
		WatcherInterval: time.Duration(c.Network.WatcherIntervalMS) * time.Millisecond,
	}
}
