package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds everything the app reads at startup. Values come from
// config.yml, VELOTERM_* environment variables, and command-line flags,
// in increasing order of precedence.
type Config struct {
	FTPWatts int

	ControllerAddress string
	HeartRateAddress  string

	CountdownSec        int
	GracePeriodSec      int
	ZeroPowerPauseTicks int
	HeartbeatInterval   time.Duration
	ReconnectDelay      time.Duration

	DBPath      string
	LogFilePath string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rider.ftp_watts", 200)

	v.SetDefault("devices.controller_address", "")
	v.SetDefault("devices.heart_rate_address", "")

	v.SetDefault("session.countdown_sec", 5)
	v.SetDefault("session.grace_period_sec", 15)
	v.SetDefault("session.zero_power_pause_ticks", 1)
	v.SetDefault("session.heartbeat_interval", 10*time.Second)
	v.SetDefault("session.reconnect_delay", 3*time.Second)

	v.SetDefault("journal.db_path", "veloterm.db")
	v.SetDefault("log.file_path", "veloterm.log")
}

// RegisterFlags declares the command-line overrides on the given flag set.
// Call before Load so the parsed values can be bound.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to config file (default: configs/config.yml)")
	flags.Int("ftp", 0, "rider FTP in watts")
	flags.String("trainer", "", "BLE address of the trainer to auto-connect")
	flags.String("hrm", "", "BLE address of the heart-rate monitor to auto-connect")
	flags.String("db", "", "path to the session database")
	flags.String("log-file", "", "path to the log file")
}

// Load reads the config file (if present), applies environment and flag
// overrides, and returns the resolved configuration. A missing config file
// is not an error; the defaults stand.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("VELOTERM")
	v.AutomaticEnv()

	if path, _ := flags.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	bindFlag(v, "rider.ftp_watts", flags, "ftp")
	bindFlag(v, "devices.controller_address", flags, "trainer")
	bindFlag(v, "devices.heart_rate_address", flags, "hrm")
	bindFlag(v, "journal.db_path", flags, "db")
	bindFlag(v, "log.file_path", flags, "log-file")

	cfg := &Config{
		FTPWatts:            v.GetInt("rider.ftp_watts"),
		ControllerAddress:   v.GetString("devices.controller_address"),
		HeartRateAddress:    v.GetString("devices.heart_rate_address"),
		CountdownSec:        v.GetInt("session.countdown_sec"),
		GracePeriodSec:      v.GetInt("session.grace_period_sec"),
		ZeroPowerPauseTicks: v.GetInt("session.zero_power_pause_ticks"),
		HeartbeatInterval:   v.GetDuration("session.heartbeat_interval"),
		ReconnectDelay:      v.GetDuration("session.reconnect_delay"),
		DBPath:              v.GetString("journal.db_path"),
		LogFilePath:         v.GetString("log.file_path"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.FTPWatts <= 0 {
		return fmt.Errorf("rider.ftp_watts must be positive, got %d", c.FTPWatts)
	}
	if c.CountdownSec < 0 {
		return fmt.Errorf("session.countdown_sec must not be negative, got %d", c.CountdownSec)
	}
	if c.GracePeriodSec < 0 {
		return fmt.Errorf("session.grace_period_sec must not be negative, got %d", c.GracePeriodSec)
	}
	if c.ZeroPowerPauseTicks < 1 {
		return fmt.Errorf("session.zero_power_pause_ticks must be at least 1, got %d", c.ZeroPowerPauseTicks)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("session.heartbeat_interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("session.reconnect_delay must be positive, got %s", c.ReconnectDelay)
	}
	return nil
}

func bindFlag(v *viper.Viper, key string, flags *pflag.FlagSet, name string) {
	if flag := flags.Lookup(name); flag != nil && flag.Changed {
		v.Set(key, flag.Value.String())
	}
}
