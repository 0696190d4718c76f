// Package config loads instance settings from flags, SOLO_* environment
// variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/solo/pkg/client"
	"github.com/pixperk/solo/pkg/discovery"
	"github.com/pixperk/solo/pkg/node"
	"github.com/pixperk/solo/pkg/quiesce"
	"github.com/pixperk/solo/pkg/resolver"
	"github.com/pixperk/solo/pkg/server"
	"github.com/spf13/viper"
)

const EnvPrefix = "SOLO"

type Config struct {
	Listener  ListenerConfig  `mapstructure:"listener"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Quiesce   QuiesceConfig   `mapstructure:"quiesce"`
	Data      DataConfig      `mapstructure:"data"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Log       LogConfig       `mapstructure:"log"`
}

type ListenerConfig struct {
	Host     string `mapstructure:"host"`
	BasePort int    `mapstructure:"base_port"`
	MaxPorts int    `mapstructure:"max_ports"`
}

type DiscoveryConfig struct {
	Mode           string `mapstructure:"mode"`
	PortMultiplier int    `mapstructure:"port_multiplier"`
	MaxCandidates  int    `mapstructure:"max_candidates"`
	RegistryDir    string `mapstructure:"registry_dir"`
}

type TimeoutsConfig struct {
	Liveness     time.Duration `mapstructure:"liveness"`
	Call         time.Duration `mapstructure:"call"`
	RaceYield    time.Duration `mapstructure:"race_yield"`
	YieldStagger time.Duration `mapstructure:"yield_stagger"`
	Repoll       time.Duration `mapstructure:"repoll"`
}

type QuiesceConfig struct {
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	CloseWait    time.Duration `mapstructure:"close_wait"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

type GatewayConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

func Default() *Config {
	return &Config{
		Listener: ListenerConfig{
			Host:     server.DefaultHost,
			BasePort: server.DefaultBasePort,
			MaxPorts: server.DefaultMaxPorts,
		},
		Discovery: DiscoveryConfig{
			Mode:           node.DiscoveryProcess,
			PortMultiplier: discovery.DefaultPortMultiplier,
			MaxCandidates:  discovery.DefaultMaxCandidates,
			RegistryDir:    discovery.DefaultRegistryDir(),
		},
		Timeouts: TimeoutsConfig{
			Liveness:     client.DefaultLivenessTimeout,
			Call:         client.DefaultCallTimeout,
			RaceYield:    resolver.DefaultRaceYieldAfter,
			YieldStagger: resolver.DefaultYieldStagger,
			Repoll:       resolver.DefaultRepollInterval,
		},
		Quiesce: QuiesceConfig{
			GracePeriod:  quiesce.DefaultGracePeriod,
			CloseWait:    quiesce.DefaultCloseWait,
			PollInterval: quiesce.DefaultPollInterval,
		},
		Data: DataConfig{
			Dir: DataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("listener.host", d.Listener.Host)
	v.SetDefault("listener.base_port", d.Listener.BasePort)
	v.SetDefault("listener.max_ports", d.Listener.MaxPorts)

	v.SetDefault("discovery.mode", d.Discovery.Mode)
	v.SetDefault("discovery.port_multiplier", d.Discovery.PortMultiplier)
	v.SetDefault("discovery.max_candidates", d.Discovery.MaxCandidates)
	v.SetDefault("discovery.registry_dir", d.Discovery.RegistryDir)

	v.SetDefault("timeouts.liveness", d.Timeouts.Liveness)
	v.SetDefault("timeouts.call", d.Timeouts.Call)
	v.SetDefault("timeouts.race_yield", d.Timeouts.RaceYield)
	v.SetDefault("timeouts.yield_stagger", d.Timeouts.YieldStagger)
	v.SetDefault("timeouts.repoll", d.Timeouts.Repoll)

	v.SetDefault("quiesce.grace_period", d.Quiesce.GracePeriod)
	v.SetDefault("quiesce.close_wait", d.Quiesce.CloseWait)
	v.SetDefault("quiesce.poll_interval", d.Quiesce.PollInterval)

	v.SetDefault("data.dir", d.Data.Dir)
	v.SetDefault("gateway.addr", d.Gateway.Addr)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", d.Log.JSON)
}

// Init wires v to SOLO_* environment variables and reads the config file
// when one is found. A missing file is not an error.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	// SOLO_LISTENER_BASE_PORT for listener.base_port
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// Load reads the configuration from v into a Config and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Listener.BasePort <= 0 || c.Listener.BasePort > 65535 {
		errs = append(errs, fmt.Errorf("listener.base_port out of range: %d", c.Listener.BasePort))
	}
	if c.Listener.MaxPorts <= 0 || c.Listener.BasePort+c.Listener.MaxPorts-1 > 65535 {
		errs = append(errs, fmt.Errorf("listener.max_ports out of range: %d", c.Listener.MaxPorts))
	}
	switch c.Discovery.Mode {
	case node.DiscoveryProcess, node.DiscoveryRegistry:
	default:
		errs = append(errs, fmt.Errorf("discovery.mode must be %q or %q, got %q", node.DiscoveryProcess, node.DiscoveryRegistry, c.Discovery.Mode))
	}
	for key, d := range map[string]time.Duration{
		"timeouts.liveness":     c.Timeouts.Liveness,
		"timeouts.call":         c.Timeouts.Call,
		"timeouts.race_yield":   c.Timeouts.RaceYield,
		"timeouts.repoll":       c.Timeouts.Repoll,
		"quiesce.grace_period":  c.Quiesce.GracePeriod,
		"quiesce.close_wait":    c.Quiesce.CloseWait,
		"quiesce.poll_interval": c.Quiesce.PollInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("log.level unknown: %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// NewLogger builds the root logger every component names itself from
func (c *Config) NewLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "solo",
		Level:      hclog.LevelFromString(c.Log.Level),
		JSONFormat: c.Log.JSON,
		Output:     os.Stderr,
	})
}

// NodeConfig maps the loaded settings onto the node wiring
func (c *Config) NodeConfig(logger hclog.Logger) node.Config {
	return node.Config{
		DataDir: c.Data.Dir,
		Listener: server.ListenerConfig{
			Host:     c.Listener.Host,
			BasePort: c.Listener.BasePort,
			MaxPorts: c.Listener.MaxPorts,
		},
		DiscoveryMode:  c.Discovery.Mode,
		PortMultiplier: c.Discovery.PortMultiplier,
		MaxCandidates:  c.Discovery.MaxCandidates,
		RegistryDir:    c.Discovery.RegistryDir,
		Dialer: client.Config{
			Host:            c.Listener.Host,
			LivenessTimeout: c.Timeouts.Liveness,
			CallTimeout:     c.Timeouts.Call,
		},
		Resolver: resolver.Config{
			RaceYieldAfter: c.Timeouts.RaceYield,
			RepollInterval: c.Timeouts.Repoll,
			YieldStagger:   c.Timeouts.YieldStagger,
		},
		Quiesce: quiesce.Config{
			GracePeriod:  c.Quiesce.GracePeriod,
			CloseWait:    c.Quiesce.CloseWait,
			PollInterval: c.Quiesce.PollInterval,
		},
		GatewayAddr: c.Gateway.Addr,
		Logger:      logger,
	}
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "solo")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".solo"
	}
	return filepath.Join(home, ".config", "solo")
}

// DataDir returns the default data directory
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "solo")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".local", "share", "solo")
}
