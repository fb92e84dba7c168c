// Package config loads the receiver's runtime configuration from a YAML
// document, environment, and CLI flags, in the same layering teacher
// configs in this codebase use: defaults, then YAML overrides, then CLI
// overrides.
package config

import (
	"os"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// StreamConfig configures a single RTP receive stream's jitter buffer and
// TWCC accounting.
type StreamConfig struct {
	ClockRate uint32        `yaml:"clock_rate"`
	Latency   time.Duration `yaml:"latency"`

	TWCCEnabled      bool          `yaml:"twcc_enabled"`
	FeedbackInterval time.Duration `yaml:"feedback_interval"`
}

// Config is the process-wide configuration.
type Config struct {
	LogLevel    string       `yaml:"log_level"`
	Development bool         `yaml:"development"`
	Stream      StreamConfig `yaml:"stream"`
	KeyFile     string       `yaml:"key_file"`
}

// DefaultConfig mirrors the zero-config values a receiver should run
// with when no YAML document is supplied.
var DefaultConfig = Config{
	LogLevel: "info",
	Stream: StreamConfig{
		ClockRate:        90000,
		Latency:          200 * time.Millisecond,
		TWCCEnabled:      true,
		FeedbackInterval: 100 * time.Millisecond,
	},
}

// New builds a Config starting from DefaultConfig, layering in confYAML
// (if non-empty) and then any CLI flags present on c (if non-nil).
func New(confYAML string, c *cli.Context) (*Config, error) {
	marshalled, err := yaml.Marshal(&DefaultConfig)
	if err != nil {
		return nil, errors.Wrap(err, "config: marshal defaults")
	}

	var conf Config
	if err := yaml.Unmarshal(marshalled, &conf); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal defaults")
	}

	if confYAML != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confYAML))
		if err := decoder.Decode(&conf); err != nil {
			return nil, errors.Wrap(err, "config: parse yaml")
		}
	}

	if c != nil {
		conf.updateFromCLI(c)
	}

	if conf.Stream.ClockRate == 0 {
		return nil, errors.New("config: stream.clock_rate must be non-zero")
	}
	if conf.Stream.Latency <= 0 {
		return nil, errors.New("config: stream.latency must be positive")
	}

	if conf.Development && conf.LogLevel == "" {
		conf.LogLevel = "debug"
	}

	if conf.KeyFile != "" {
		file, err := homedir.Expand(os.ExpandEnv(conf.KeyFile))
		if err != nil {
			return nil, errors.Wrap(err, "config: expand key_file")
		}
		conf.KeyFile = file
	}

	return &conf, nil
}

func (conf *Config) updateFromCLI(c *cli.Context) {
	if c.IsSet("log-level") {
		conf.LogLevel = c.String("log-level")
	}
	if c.IsSet("clock-rate") {
		conf.Stream.ClockRate = uint32(c.Uint("clock-rate"))
	}
	if c.IsSet("latency") {
		conf.Stream.Latency = c.Duration("latency")
	}
	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
}

// Flags returns the urfave/cli flag set New's CLI layer reads from.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn, error"},
		&cli.UintFlag{Name: "clock-rate", Usage: "RTP clock rate in Hz"},
		&cli.DurationFlag{Name: "latency", Usage: "jitter buffer latency bound"},
		&cli.BoolFlag{Name: "dev"},
	}
}
