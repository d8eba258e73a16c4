package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pithecene-io/burrow/cli/config"
	"github.com/pithecene-io/burrow/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
strategy: thread_local
sampling:
  sample_rate_small: 0.05
  sample_rate_medium: 0.5
  size_threshold_critical: 1048576
  frequency_interval: 50
buffer:
  capacity: 1024
  on_overflow: drop
output:
  format: both
  compression: zstd
  dir: ./profiles
  prefix: myapp
overhead:
  max_percent: 5
adapter:
  type: webhook
  url: https://hooks.example.com/burrow
  timeout: 10s
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Topology() != types.TopologyThreadLocal {
		t.Errorf("strategy wrong: %s", cfg.Topology())
	}
	params := cfg.SamplingParams()
	if params.SmallSampleRate != 0.05 || params.FrequencySampleInterval != 50 {
		t.Errorf("sampling params wrong: %+v", params)
	}
	// Unset fields keep production defaults.
	if params.MediumSizeThreshold == 0 {
		t.Error("unset medium threshold should default, not zero")
	}
	if cfg.Output.Compression != "zstd" || cfg.Output.Prefix != "myapp" {
		t.Errorf("output wrong: %+v", cfg.Output)
	}
	if cfg.Adapter.Timeout.Duration.Seconds() != 10 {
		t.Errorf("timeout not parsed: %+v", cfg.Adapter.Timeout)
	}
}

func TestLoad_UnknownKeysRejected(t *testing.T) {
	path := writeConfig(t, "no_such_key: true\n")
	if _, err := config.Load(path); err == nil {
		t.Fatal("unknown keys must be rejected")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad strategy", func(c *config.Config) { c.Strategy = "quantum" }},
		{"bad compression", func(c *config.Config) { c.Output.Compression = "lz4" }},
		{"bad backend", func(c *config.Config) { c.Output.Backend = "ftp" }},
		{"bad adapter", func(c *config.Config) { c.Adapter.Type = "carrier_pigeon" }},
		{"bad view", func(c *config.Config) { c.Output.Views = []string{"nonsense"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg config.Config
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("BURROW_TEST_BUCKET", "profiles-bucket")

	in := "path: ${BURROW_TEST_BUCKET}/traces\nregion: ${BURROW_TEST_ABSENT:-us-east-1}\nempty: ${BURROW_TEST_ABSENT}"
	out := config.ExpandEnv(in)

	want := "path: profiles-bucket/traces\nregion: us-east-1\nempty: "
	if out != want {
		t.Errorf("expansion wrong:\n got: %q\nwant: %q", out, want)
	}
}
