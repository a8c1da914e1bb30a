package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/angas/agile-export/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type AppConfigOctopus struct {
	// DNO region letter, A to P (I and O are not used)
	Region string `mapstructure:"region"`
	// API root, default: https://api.octopus.energy
	BaseURL *string `mapstructure:"base_url"`
	// Budget in seconds for each request and for a whole refresh, default: 10
	Timeout *int `mapstructure:"timeout"`
	// Seconds between rate refreshes, default: 900
	PollInterval *int `mapstructure:"poll_interval"`
}

func (o AppConfigOctopus) GetBaseURL() string {
	if o.BaseURL == nil {
		return "https://api.octopus.energy"
	}
	return *o.BaseURL
}

func (o AppConfigOctopus) GetTimeout() time.Duration {
	if o.Timeout == nil || *o.Timeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(*o.Timeout) * time.Second
}

func (o AppConfigOctopus) GetPollInterval() time.Duration {
	if o.PollInterval == nil {
		return 900 * time.Second
	}
	return time.Duration(*o.PollInterval) * time.Second
}

type AppConfigApi struct {
	Address string
	Port    int16
}

type AppConfigGui struct {
	// Timezone of today's and tomorrow's rates, default: the local zone
	Timezone *string `mapstructure:"timezone"`
}

func (g AppConfigGui) GetTimezone() string {
	if g.Timezone == nil {
		return "Local"
	}
	return *g.Timezone
}

type AppConfigLogging struct {
	// Min log level for the console: "DEBUG", "INFO", "WARN", "ERROR", default: "INFO"
	ConsoleLevel *string `mapstructure:"console_level"`
	// Min log level for the in-memory log served at /log, default: "INFO"
	RingLevel *string `mapstructure:"ring_level"`
	// Log attributes format: "TEXT", "JSON", default: "TEXT"
	RingAttrsFormat *string `mapstructure:"ring_attrs_format"`
	// Number of records kept in memory, default: 500
	RingMaxEntries *int `mapstructure:"ring_max_entries"`
}

func (l AppConfigLogging) GetConsoleLevel() slog.Level {
	return logging.LevelFromString(l.ConsoleLevel)
}

func (l AppConfigLogging) GetRingLevel() slog.Level {
	return logging.LevelFromString(l.RingLevel)
}

func (l AppConfigLogging) GetRingAttrsFormat() logging.LogAttrFormat {
	return logging.AttrFormatFromString(l.RingAttrsFormat)
}

func (l AppConfigLogging) GetRingMaxEntries() int {
	if l.RingMaxEntries == nil {
		return logging.DefaultRingSize
	}
	return *l.RingMaxEntries
}

// MQTT publishing is disabled when no host is given.
type AppConfigMqtt struct {
	Host        string
	Port        int16
	Username    string
	Password    string
	TopicPrefix *string `mapstructure:"topic_prefix"`
}

func (m AppConfigMqtt) Enabled() bool {
	return m.Host != ""
}

func (m AppConfigMqtt) GetPort() int16 {
	if m.Port == 0 {
		return 1883
	}
	return m.Port
}

func (m AppConfigMqtt) GetTopicPrefix() string {
	if m.TopicPrefix == nil {
		return "octopus_export"
	}
	return *m.TopicPrefix
}

type AppConfig struct {
	Octopus AppConfigOctopus `mapstructure:"octopus"`
	Api     AppConfigApi
	Gui     AppConfigGui     `mapstructure:"gui"`
	Logging AppConfigLogging `mapstructure:"logging"`
	Mqtt    AppConfigMqtt    `mapstructure:"mqtt"`
}

func Load(path string) (*AppConfig, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath("config")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}

	return unmarshal()
}

func unmarshal() (*AppConfig, error) {
	var c AppConfig
	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config file: %w", err)
	}
	return &c, nil
}

// Watch calls onChange with the new configuration every time the loaded
// config file is written. A file that no longer parses is logged and skipped.
func Watch(onChange func(*AppConfig)) {
	logger := slog.Default().With("module", "config")

	viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("config file changed", slog.String("file", e.Name), slog.String("op", e.Op.String()))
		c, err := unmarshal()
		if err != nil {
			logger.Error("failed to reload config", slog.Any("error", err))
			return
		}
		onChange(c)
	})
	viper.WatchConfig()
}
