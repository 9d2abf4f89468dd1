package config

import (
	"github.com/spf13/viper"
)

type APIConfig struct {
	Enable bool   `toml:"enable" mapstructure:"enable"`
	Addr   string `toml:"addr" mapstructure:"addr"`
	Key    string `toml:"key" mapstructure:"key"`
}

type AppConfig struct {
	AppID   int    `toml:"app_id" mapstructure:"app_id"`
	AppHash string `toml:"app_hash" mapstructure:"app_hash"`
	// Directory for the session database and chat metadata.
	DataDir string `toml:"data_dir" mapstructure:"data_dir"`
	// Directory of the on-disk search index.
	IndexDir string `toml:"index_dir" mapstructure:"index_dir"`
	// Chats that must never be archived. Accepts marked (-100...) ids.
	ExcludedChats []int64 `toml:"excluded_chats" mapstructure:"excluded_chats"`
	// Archive every chat the account sees instead of only backfilled ones.
	MonitorAll bool `toml:"monitor_all" mapstructure:"monitor_all"`

	API APIConfig `toml:"api" mapstructure:"api"`
}

var C AppConfig

func Load() error {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.SetDefault("data_dir", "data")
	viper.SetDefault("index_dir", "data/index")
	viper.SetDefault("api.addr", ":8080")

	if err := viper.ReadInConfig(); err != nil {
		return err
	}
	return viper.Unmarshal(&C)
}
