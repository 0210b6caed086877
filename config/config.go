// Package config loads the engine configuration from a YAML file with
// environment-variable overrides (prefix TICKBOOK_).
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Symbol  string `mapstructure:"symbol"`
	DataDir string `mapstructure:"data_dir"`

	Checkpoint struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"checkpoint"`

	Kafka struct {
		Brokers       []string      `mapstructure:"brokers"`
		EventsTopic   string        `mapstructure:"events_topic"`
		FeedTopic     string        `mapstructure:"feed_topic"`
		DrainInterval time.Duration `mapstructure:"drain_interval"`
		FeedInterval  time.Duration `mapstructure:"feed_interval"`
	} `mapstructure:"kafka"`
}

// Load reads the config file at path (optional: defaults apply when it
// is absent) and unmarshals into a Config.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("symbol", "BTC-USD")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("checkpoint.interval", 30*time.Second)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.events_topic", "tickbook.events")
	v.SetDefault("kafka.feed_topic", "tickbook.feed")
	v.SetDefault("kafka.drain_interval", 250*time.Millisecond)
	v.SetDefault("kafka.feed_interval", time.Second)

	v.SetEnvPrefix("TICKBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
