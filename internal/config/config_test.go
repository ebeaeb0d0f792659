package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"archivesampler/internal/sampling"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", newFlags(t, "--dir", "/data/zips"))
	require.NoError(t, err)

	assert.Equal(t, "dir", cfg.Archive.Kind)
	assert.Equal(t, "/data/zips", cfg.Archive.Dir)
	assert.Equal(t, int64(1), cfg.Archive.RecordsPerContainer)
	assert.Equal(t, 0.95, cfg.Sampling.Confidence)
	assert.Equal(t, uint64(42), cfg.Sampling.Seed)
	assert.Equal(t, "cochran", cfg.Sampling.Policy)
	assert.Equal(t, 0.05, cfg.FailureTolerance)
	assert.Equal(t, filepath.Join("./output", "metadata_sample.csv"), cfg.OutputPath(cfg.Output.Table))
	assert.Equal(t, 500*time.Millisecond, cfg.Thresholds().ThrottleDelay)
}

func TestLoadFileWithEnvAndFlags(t *testing.T) {
	t.Setenv("SAMPLER_SECRET", "s3cr3t")
	path := writeConfig(t, `
archive:
  kind: bucket
  endpoint: http://minio:9000
  access_key: admin
  secret_key: ${SAMPLER_SECRET}
  bucket: ${SAMPLER_BUCKET:-lattes}
sampling:
  population: 7391139
  policy: margin
extraction:
  workers: 4
failure_tolerance: 0.01
`)

	cfg, err := Load(path, newFlags(t, "--sample-size", "500", "--log-level", "debug"))
	require.NoError(t, err)

	assert.Equal(t, "s3cr3t", cfg.Archive.SecretKey)
	assert.Equal(t, "lattes", cfg.Archive.Bucket)
	assert.Equal(t, int64(7391139), cfg.Sampling.Population)
	// An explicit --policy was not given, so the file's margin policy stands.
	assert.Equal(t, "margin", cfg.Sampling.Policy)
	assert.Equal(t, int64(500), cfg.Sampling.FixedSize)
	assert.Equal(t, 4, cfg.Extraction.Workers)
	assert.Equal(t, 0.01, cfg.FailureTolerance)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "lattes", cfg.StorageConfig().Bucket)
}

func TestSampleSizeFlagSelectsFixedPolicy(t *testing.T) {
	cfg, err := Load("", newFlags(t, "--dir", "x", "--sample-size", "500"))
	require.NoError(t, err)
	assert.Equal(t, sampling.PolicyFixed, cfg.Sizing().Policy)
	assert.Equal(t, int64(500), cfg.Sizing().FixedSize)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "archive:\n  dir: x\n  colour: blue\n")
	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		param  bool
	}{
		{name: "missing dir", mutate: func(c *Config) { c.Archive.Dir = "" }},
		{name: "bucket without endpoint", mutate: func(c *Config) { c.Archive.Kind = "bucket"; c.Archive.Bucket = "b" }},
		{name: "unknown kind", mutate: func(c *Config) { c.Archive.Kind = "ftp" }},
		{name: "bad confidence", mutate: func(c *Config) { c.Sampling.Population = 10; c.Sampling.Confidence = 1.5 }, param: true},
		{name: "bad margin while counting", mutate: func(c *Config) { c.Sampling.Population = 0; c.Sampling.Margin = 0 }, param: true},
		{name: "resume and fresh", mutate: func(c *Config) { c.Resume = true; c.Fresh = true }},
		{name: "bad proportion", mutate: func(c *Config) { c.Sampling.Population = 10; c.Sampling.Proportion = 0 }, param: true},
		{name: "fixed without size", mutate: func(c *Config) { c.Sampling.Policy = "fixed" }, param: true},
		{name: "unknown policy", mutate: func(c *Config) { c.Sampling.Policy = "stratified" }, param: true},
		{name: "zero workers", mutate: func(c *Config) { c.Extraction.Workers = 0 }},
		{name: "tolerance above one", mutate: func(c *Config) { c.FailureTolerance = 2 }},
		{name: "throttle above halt", mutate: func(c *Config) { c.Resources.MemThrottle = 95 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Archive.Dir = "/data"
			require.NoError(t, cfg.validate())

			tt.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			if tt.param {
				assert.ErrorIs(t, err, sampling.ErrInvalidParameter)
			}
		})
	}
}
