package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/yuya-takeyama/trusted-dedup/internal/checksum"
	"github.com/yuya-takeyama/trusted-dedup/internal/logging"
	"github.com/yuya-takeyama/trusted-dedup/internal/walker"
)

const envPrefix = "TRUSTED_DEDUP"

type Config struct {
	RecurseSubfolders   bool          `mapstructure:"recurse_subfolders"`
	IncludeHidden       bool          `mapstructure:"include_hidden"`
	IncludeEmptyFiles   bool          `mapstructure:"include_empty_files"`
	AllowReadOnlyDelete bool          `mapstructure:"allow_readonly_delete"`
	AllowHiddenDelete   bool          `mapstructure:"allow_hidden_delete"`
	SimulateOnly        bool          `mapstructure:"simulate_only"`
	Debug               bool          `mapstructure:"debug"`
	Interactive         bool          `mapstructure:"interactive"`
	Quiet               bool          `mapstructure:"quiet"`
	Excludes            []string      `mapstructure:"excludes"`
	Algorithm           string        `mapstructure:"algorithm"`
	LogFormat           string        `mapstructure:"log_format"`
	LogLevel            string        `mapstructure:"log_level"`
	ProgressInterval    time.Duration `mapstructure:"progress_interval"`
	ResultJSONFile      string        `mapstructure:"result_json_file"`
	AWSProfile          string        `mapstructure:"aws_profile"`
	AWSRegion           string        `mapstructure:"aws_region"`
}

func Default() *Config {
	return &Config{
		RecurseSubfolders: true,
		Algorithm:         string(checksum.Default),
		LogFormat:         "text",
		LogLevel:          "warn",
	}
}

// FlagKeys maps command-line flag names to config keys
var FlagKeys = map[string]string{
	"recurse":           "recurse_subfolders",
	"hidden":            "include_hidden",
	"empty":             "include_empty_files",
	"delete-readonly":   "allow_readonly_delete",
	"delete-hidden":     "allow_hidden_delete",
	"dryrun":            "simulate_only",
	"debug":             "debug",
	"interactive":       "interactive",
	"quiet":             "quiet",
	"exclude":           "excludes",
	"algorithm":         "algorithm",
	"log-format":        "log_format",
	"log-level":         "log_level",
	"progress-interval": "progress_interval",
	"result-json-file":  "result_json_file",
	"profile":           "aws_profile",
	"region":            "aws_region",
}

// Load merges defaults, the config file, TRUSTED_DEDUP_* environment
// variables and explicitly set flags, in increasing priority. A missing
// config file is not an error unless cfgFile names it.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("trusted-dedup")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir := configDir(); dir != "" {
			v.AddConfigPath(dir)
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix(envPrefix)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("recurse_subfolders", d.RecurseSubfolders)
	v.SetDefault("include_hidden", d.IncludeHidden)
	v.SetDefault("include_empty_files", d.IncludeEmptyFiles)
	v.SetDefault("allow_readonly_delete", d.AllowReadOnlyDelete)
	v.SetDefault("allow_hidden_delete", d.AllowHiddenDelete)
	v.SetDefault("simulate_only", d.SimulateOnly)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("interactive", d.Interactive)
	v.SetDefault("quiet", d.Quiet)
	v.SetDefault("excludes", d.Excludes)
	v.SetDefault("algorithm", d.Algorithm)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("progress_interval", d.ProgressInterval)
	v.SetDefault("result_json_file", d.ResultJSONFile)
	v.SetDefault("aws_profile", d.AWSProfile)
	v.SetDefault("aws_region", d.AWSRegion)
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "trusted-dedup")
}

// Validate checks the config for invalid values and returns all errors found
func (c *Config) Validate() error {
	var errs []error

	if _, err := checksum.ParseAlgorithm(c.Algorithm); err != nil {
		errs = append(errs, fmt.Errorf("algorithm: %w", err))
	}
	if err := logging.ValidateLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if err := logging.ValidateFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}
	if err := walker.ValidateExcludes(c.Excludes); err != nil {
		errs = append(errs, err)
	}
	if c.ProgressInterval < 0 {
		errs = append(errs, fmt.Errorf("progress_interval must not be negative, got %s", c.ProgressInterval))
	}
	if c.Interactive && c.Quiet {
		errs = append(errs, errors.New("interactive and quiet cannot be combined"))
	}

	return errors.Join(errs...)
}
