package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Bool("recurse", true, "")
	fs.Bool("hidden", false, "")
	fs.Bool("dryrun", false, "")
	fs.StringSlice("exclude", nil, "")
	fs.String("algorithm", "sha256", "")
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.RecurseSubfolders || cfg.IncludeHidden || cfg.SimulateOnly {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Algorithm != "sha256" || cfg.LogLevel != "warn" {
		t.Errorf("algorithm = %q, log level = %q", cfg.Algorithm, cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfgFile := filepath.Join(dir, "custom.yaml")
	content := `include_hidden: true
simulate_only: false
algorithm: md5
excludes:
  - "*.tmp"
progress_interval: 2s
`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TRUSTED_DEDUP_ALGORITHM", "sha1")
	t.Setenv("TRUSTED_DEDUP_ALLOW_HIDDEN_DELETE", "true")

	cfg, err := Load(cfgFile, newFlags(t, "--dryrun", "--exclude", "*.bak"))
	if err != nil {
		t.Fatal(err)
	}

	if !cfg.IncludeHidden {
		t.Error("include_hidden from file not applied")
	}
	if cfg.Algorithm != "sha1" {
		t.Errorf("algorithm = %q, want env override sha1", cfg.Algorithm)
	}
	if !cfg.AllowHiddenDelete {
		t.Error("allow_hidden_delete from env not applied")
	}
	if !cfg.SimulateOnly {
		t.Error("--dryrun flag did not override the file")
	}
	if !reflect.DeepEqual(cfg.Excludes, []string{"*.bak"}) {
		t.Errorf("excludes = %v, want flag value", cfg.Excludes)
	}
	if cfg.ProgressInterval != 2*time.Second {
		t.Errorf("progress_interval = %v", cfg.ProgressInterval)
	}
	if !cfg.RecurseSubfolders {
		t.Error("unset flag overrode the default")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Error("Load() with a missing explicit file should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad algorithm", func(c *Config) { c.Algorithm = "crc32" }, "unknown checksum algorithm"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "invalid log format"},
		{"bad exclude", func(c *Config) { c.Excludes = []string{"[x"} }, "invalid exclude pattern"},
		{"negative interval", func(c *Config) { c.ProgressInterval = -time.Second }, "progress_interval"},
		{"interactive and quiet", func(c *Config) { c.Interactive, c.Quiet = true, true }, "cannot be combined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
