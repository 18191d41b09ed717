// Package config loads the backtest server's configuration from a
// file, environment variables, and flag-level overrides via viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all server configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Data    DataConfig    `mapstructure:"data"`
	Pools   []PoolConfig  `mapstructure:"pools"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains HTTP/WebSocket host settings.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxConnections int           `mapstructure:"max_connections"`
}

// DataConfig configures the file-backed market data store.
type DataConfig struct {
	Dir       string `mapstructure:"dir"`
	CacheSize int    `mapstructure:"cache_size"`
}

// SignalRuleConfig mirrors signals.SignalRule for config-file loading.
type SignalRuleConfig struct {
	Name      string  `mapstructure:"name"`
	Indicator string  `mapstructure:"indicator"`
	Period    int     `mapstructure:"period"`
	Operator  string  `mapstructure:"operator"`
	Threshold float64 `mapstructure:"threshold"`
	Direction string  `mapstructure:"direction"`
}

// PoolConfig mirrors signals.PoolDefinition for config-file loading.
type PoolConfig struct {
	ID       string             `mapstructure:"id"`
	Name     string             `mapstructure:"name"`
	Logic    string             `mapstructure:"logic"`
	Interval string             `mapstructure:"interval"`
	Rules    []SignalRuleConfig `mapstructure:"rules"`
}

// BatchConfig controls the -batch CLI fan-out mode.
type BatchConfig struct {
	NumWorkers int `mapstructure:"num_workers"`
}

// LoggingConfig controls the zap logger built from this config.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from configPath (if set), falling back to
// ./config.yaml or ./configs/config.yaml, then environment variables
// prefixed BACKTEST_, then the defaults set below.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("BACKTEST")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_connections", 100)

	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.cache_size", 256)

	v.SetDefault("batch.num_workers", 0) // 0 => workers.DefaultPoolConfig picks NumCPU

	v.SetDefault("logging.level", "info")

	v.SetDefault("pools", []map[string]interface{}{
		{
			"id":       "momentum-pool",
			"name":     "Momentum Breakout",
			"logic":    "AND",
			"interval": "1h",
			"rules": []map[string]interface{}{
				{"name": "price_above_sma20", "indicator": "sma", "period": 20, "operator": "gt", "threshold": 0, "direction": "long"},
				{"name": "rsi_not_overbought", "indicator": "rsi", "period": 14, "operator": "lt", "threshold": 70},
			},
		},
	})
}
