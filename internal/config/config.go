// Package config loads caracal settings from a YAML file and CARACAL_*
// environment variables.
package config

import (
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/shamspias/caracal"
	"github.com/shamspias/caracal/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. CARACAL_PROFILE_QUALITY.
const EnvPrefix = "CARACAL"

// Config is the full command configuration.
type Config struct {
	Profile caracal.Profile      `mapstructure:"profile" yaml:"profile"`
	Batch   caracal.BatchOptions `mapstructure:"batch" yaml:"batch"`
	Log     logging.Config       `mapstructure:"log" yaml:"log"`
}

// Default returns the configuration used when no file or env is present.
func Default() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	return cfg
}

// Load reads path, or caracal.yaml from the working directory and
// $HOME/.config/caracal when path is empty, then applies environment
// overrides. A missing default file is not an error; a missing explicit
// path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("caracal")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/caracal")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	registerKeys(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.Wrap(err, "apply defaults")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Profile.Validate(); err != nil {
		return err
	}
	if err := validate.Struct(c.Batch); err != nil {
		return errors.Wrap(err, "batch")
	}
	if err := validate.Struct(c.Log); err != nil {
		return errors.Wrap(err, "log")
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// registerKeys makes every key known to viper so AutomaticEnv can
// override it during Unmarshal.
func registerKeys(v *viper.Viper, d *Config) {
	v.SetDefault("profile.quality", d.Profile.Quality)
	v.SetDefault("profile.mode", string(d.Profile.Mode))
	for _, k := range []string{"profile.web_optimized", "profile.sharpen_filter", "profile.noise_reduction"} {
		_ = v.BindEnv(k)
	}

	v.SetDefault("batch.max_concurrency", d.Batch.MaxConcurrency)
	v.SetDefault("batch.retry_limit", d.Batch.RetryLimit)
	v.SetDefault("batch.pause_on_error", d.Batch.PauseOnError)
	v.SetDefault("batch.prioritize_small_files", d.Batch.PrioritizeSmallFiles)
	v.SetDefault("batch.poll_interval", d.Batch.PollInterval)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.compress", d.Log.Compress)
}
