package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"archivesampler/internal/resource"
	"archivesampler/internal/sampling"
	"archivesampler/internal/storage"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Archive          Archive    `yaml:"archive"`
	Sampling         Sampling   `yaml:"sampling"`
	Extraction       Extraction `yaml:"extraction"`
	Resources        Resources  `yaml:"resources"`
	Checkpoint       Checkpoint `yaml:"checkpoint"`
	Output           Output     `yaml:"output"`
	FailureTolerance float64    `yaml:"failure_tolerance"`
	LogLevel         string     `yaml:"log_level"`
	MetricsAddr      string     `yaml:"metrics_addr"`
	ShowProgress     bool       `yaml:"show_progress"`
	Resume           bool       `yaml:"resume"`
	Fresh            bool       `yaml:"fresh"`
	DryRun           bool       `yaml:"dry_run"`
}

// Archive locates the containers.
type Archive struct {
	Kind                string `yaml:"kind"` // "dir" or "bucket"
	Dir                 string `yaml:"dir"`
	Pattern             string `yaml:"pattern"`
	RecordSuffix        string `yaml:"record_suffix"`
	RecordsPerContainer int64  `yaml:"records_per_container"` // 0 reads every container directory
	Endpoint            string `yaml:"endpoint"`
	AccessKey           string `yaml:"access_key"`
	SecretKey           string `yaml:"secret_key"`
	Secure              bool   `yaml:"secure"`
	Bucket              string `yaml:"bucket"`
	Prefix              string `yaml:"prefix"`
}

// Sampling holds the population descriptor and the size policy.
type Sampling struct {
	Population   int64   `yaml:"population"` // 0 counts the archive
	Confidence   float64 `yaml:"confidence"`
	Margin       float64 `yaml:"margin"`
	Proportion   float64 `yaml:"proportion"`
	Seed         uint64  `yaml:"seed"`
	Policy       string  `yaml:"policy"`
	FixedSize    int64   `yaml:"fixed_size"`
	SafetyMargin int64   `yaml:"safety_margin"`
	Cap          int64   `yaml:"cap"`
}

// Extraction tunes per-record work.
type Extraction struct {
	DefaultEncoding string `yaml:"default_encoding"`
	SniffBytes      int    `yaml:"sniff_bytes"`
	Retries         int    `yaml:"retries"`
	RetryBackoffMs  int    `yaml:"retry_backoff_ms"`
	Workers         int    `yaml:"workers"`
}

// Resources configures pacing.
type Resources struct {
	Enabled         bool    `yaml:"enabled"`
	MemThrottle     float64 `yaml:"mem_throttle_percent"`
	MemHalt         float64 `yaml:"mem_halt_percent"`
	CPUThrottle     float64 `yaml:"cpu_throttle_percent"`
	CPUWindow       int     `yaml:"cpu_window"`
	ThrottleDelayMs int     `yaml:"throttle_delay_ms"`
	IntervalMs      int     `yaml:"interval_ms"`
}

// Checkpoint locates the checkpoint database.
type Checkpoint struct {
	Path string `yaml:"path"`
}

// Output names the run outputs. Relative file names resolve against Dir.
type Output struct {
	Dir      string `yaml:"dir"`
	Table    string `yaml:"table"`
	Manifest string `yaml:"manifest"`
	Summary  string `yaml:"summary"`
}

// Default returns the configuration used when neither file nor flags set a key.
func Default() *Config {
	th := resource.DefaultThresholds()
	return &Config{
		Archive: Archive{
			Kind:                "dir",
			Pattern:             "*.zip",
			RecordSuffix:        ".xml",
			RecordsPerContainer: 1,
		},
		Sampling: Sampling{
			Confidence:   0.95,
			Margin:       0.05,
			Proportion:   0.5,
			Seed:         42,
			Policy:       string(sampling.PolicyCochran),
			SafetyMargin: 100,
			Cap:          500,
		},
		Extraction: Extraction{
			DefaultEncoding: "UTF-8",
			SniffBytes:      64 * 1024,
			Retries:         3,
			RetryBackoffMs:  500,
			Workers:         1,
		},
		Resources: Resources{
			Enabled:         true,
			MemThrottle:     th.MemThrottle,
			MemHalt:         th.MemHalt,
			CPUThrottle:     th.CPUThrottle,
			CPUWindow:       th.CPUWindow,
			ThrottleDelayMs: int(th.ThrottleDelay / time.Millisecond),
			IntervalMs:      int(th.Interval / time.Millisecond),
		},
		Checkpoint: Checkpoint{Path: "./checkpoint.db"},
		Output: Output{
			Dir:      "./output",
			Table:    "metadata_sample.csv",
			Manifest: "sample_manifest.txt",
			Summary:  "run_summary.yaml",
		},
		FailureTolerance: 0.05,
		LogLevel:         "info",
		ShowProgress:     true,
	}
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile decodes YAML after expanding ${VAR} references.
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	expanded := os.Expand(string(data), func(key string) string {
		name, def, hasDef := strings.Cut(key, ":-")
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if hasDef {
			return def
		}
		return ""
	})

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// RegisterFlags declares the command-line overrides on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("source", "", "Archive source kind (dir/bucket)")
	fs.String("dir", "", "Directory holding the containers")
	fs.String("pattern", "", "Glob matching container file names")
	fs.String("record-suffix", "", "Suffix of record entries inside containers")
	fs.Int64("records-per-container", 0, "Records per container (0 reads every container directory)")
	fs.String("endpoint", "", "Object storage endpoint")
	fs.String("access-key", "", "Object storage access key")
	fs.String("secret-key", "", "Object storage secret key")
	fs.Bool("secure", false, "Use HTTPS for object storage")
	fs.String("bucket", "", "Bucket name")
	fs.String("prefix", "", "Object prefix filter")

	fs.Int64("population", 0, "Population size N (0 counts the archive)")
	fs.Float64("confidence", 0, "Confidence level, e.g. 0.95")
	fs.Float64("margin", 0, "Margin of error, e.g. 0.05")
	fs.Float64("proportion", 0, "Assumed proportion p")
	fs.Uint64("seed", 0, "Random start seed")
	fs.String("policy", "", "Sample size policy (cochran/margin/fixed)")
	fs.Int64("sample-size", 0, "Sample size for the fixed policy")

	fs.Int("workers", 0, "Concurrent extraction workers")
	fs.Int("retries", 0, "Maximum attempts to open a container")
	fs.Int("retry-backoff-ms", 0, "Initial retry backoff in milliseconds")
	fs.String("default-encoding", "", "Encoding assumed when detection finds nothing")

	fs.Bool("monitor", true, "Pace extraction by memory/CPU usage")
	fs.String("checkpoint", "", "Checkpoint database file")
	fs.String("output-dir", "", "Directory for the table, manifest and summary")
	fs.Float64("failure-tolerance", 0, "Fraction of failed rows still considered a healthy run")
	fs.String("log-level", "", "Log level (debug/info/warn/error)")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.Bool("show-progress", true, "Show progress display")
	fs.Bool("resume", false, "Require the checkpoint to match the sample being resumed")
	fs.Bool("fresh", false, "Discard checkpoint progress even when it matches the sample")
	fs.Bool("dry-run", false, "Compute and write the sample manifest without extracting")
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	i64 := func(name string, dst *int64) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt64(name)
		}
	}
	num := func(name string, dst *int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}
	f64 := func(name string, dst *float64) {
		if flags.Changed(name) {
			*dst, _ = flags.GetFloat64(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if flags.Changed(name) {
			*dst, _ = flags.GetBool(name)
		}
	}

	str("source", &cfg.Archive.Kind)
	str("dir", &cfg.Archive.Dir)
	str("pattern", &cfg.Archive.Pattern)
	str("record-suffix", &cfg.Archive.RecordSuffix)
	i64("records-per-container", &cfg.Archive.RecordsPerContainer)
	str("endpoint", &cfg.Archive.Endpoint)
	str("access-key", &cfg.Archive.AccessKey)
	str("secret-key", &cfg.Archive.SecretKey)
	boolean("secure", &cfg.Archive.Secure)
	str("bucket", &cfg.Archive.Bucket)
	str("prefix", &cfg.Archive.Prefix)

	i64("population", &cfg.Sampling.Population)
	f64("confidence", &cfg.Sampling.Confidence)
	f64("margin", &cfg.Sampling.Margin)
	f64("proportion", &cfg.Sampling.Proportion)
	if flags.Changed("seed") {
		cfg.Sampling.Seed, _ = flags.GetUint64("seed")
	}
	str("policy", &cfg.Sampling.Policy)
	i64("sample-size", &cfg.Sampling.FixedSize)
	if flags.Changed("sample-size") && !flags.Changed("policy") {
		cfg.Sampling.Policy = string(sampling.PolicyFixed)
	}

	num("workers", &cfg.Extraction.Workers)
	num("retries", &cfg.Extraction.Retries)
	num("retry-backoff-ms", &cfg.Extraction.RetryBackoffMs)
	str("default-encoding", &cfg.Extraction.DefaultEncoding)

	boolean("monitor", &cfg.Resources.Enabled)
	str("checkpoint", &cfg.Checkpoint.Path)
	str("output-dir", &cfg.Output.Dir)
	f64("failure-tolerance", &cfg.FailureTolerance)
	str("log-level", &cfg.LogLevel)
	str("metrics-addr", &cfg.MetricsAddr)
	boolean("show-progress", &cfg.ShowProgress)
	boolean("resume", &cfg.Resume)
	boolean("fresh", &cfg.Fresh)
	boolean("dry-run", &cfg.DryRun)

	return nil
}

func (c *Config) validate() error {
	switch c.Archive.Kind {
	case "dir":
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive dir is required")
		}
	case "bucket":
		if c.Archive.Endpoint == "" {
			return fmt.Errorf("archive endpoint is required")
		}
		if c.Archive.Bucket == "" {
			return fmt.Errorf("bucket is required")
		}
	default:
		return fmt.Errorf("unknown archive kind %q", c.Archive.Kind)
	}
	if c.Archive.RecordsPerContainer < 0 {
		return fmt.Errorf("records per container must not be negative")
	}

	if c.Sampling.Population < 0 {
		return fmt.Errorf("population must not be negative")
	}
	// Statistical inputs are checked before any I/O, even when the
	// population is still to be counted.
	if err := c.Population().ValidateParameters(); err != nil {
		return err
	}
	switch sampling.SizePolicy(c.Sampling.Policy) {
	case sampling.PolicyCochran, sampling.PolicyMargin:
	case sampling.PolicyFixed:
		if c.Sampling.FixedSize <= 0 {
			return fmt.Errorf("%w: fixed policy needs a positive sample size", sampling.ErrInvalidParameter)
		}
	default:
		return fmt.Errorf("%w: unknown size policy %q", sampling.ErrInvalidParameter, c.Sampling.Policy)
	}

	if c.Extraction.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Extraction.Retries <= 0 {
		return fmt.Errorf("retries must be positive")
	}
	if c.Extraction.SniffBytes < 1024 {
		return fmt.Errorf("sniff bytes must be at least 1024")
	}

	if c.Resources.Enabled && c.Resources.MemHalt > 0 && c.Resources.MemThrottle > c.Resources.MemHalt {
		return fmt.Errorf("memory throttle threshold above halt threshold")
	}

	if c.FailureTolerance < 0 || c.FailureTolerance > 1 {
		return fmt.Errorf("failure tolerance must be within [0, 1]")
	}
	if c.Checkpoint.Path == "" {
		return fmt.Errorf("checkpoint path is required")
	}
	if c.Resume && c.Fresh {
		return fmt.Errorf("resume and fresh are mutually exclusive")
	}

	return nil
}

// Population returns the statistical descriptor; Size may be 0 until the
// archive is counted.
func (c *Config) Population() sampling.Population {
	return sampling.Population{
		Size:       c.Sampling.Population,
		Confidence: c.Sampling.Confidence,
		Margin:     c.Sampling.Margin,
		Proportion: c.Sampling.Proportion,
	}
}

// Sizing returns the size policy.
func (c *Config) Sizing() sampling.Sizing {
	return sampling.Sizing{
		Policy:       sampling.SizePolicy(c.Sampling.Policy),
		FixedSize:    c.Sampling.FixedSize,
		SafetyMargin: c.Sampling.SafetyMargin,
		Cap:          c.Sampling.Cap,
	}
}

// Filter returns the container and record name filter.
func (c *Config) Filter() storage.Filter {
	return storage.Filter{ContainerPattern: c.Archive.Pattern, RecordSuffix: c.Archive.RecordSuffix}
}

// StorageConfig returns the object storage settings.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Endpoint:  c.Archive.Endpoint,
		AccessKey: c.Archive.AccessKey,
		SecretKey: c.Archive.SecretKey,
		Secure:    c.Archive.Secure,
		Bucket:    c.Archive.Bucket,
		Prefix:    c.Archive.Prefix,
	}
}

// Thresholds returns the resource pacing policy.
func (c *Config) Thresholds() resource.Thresholds {
	return resource.Thresholds{
		MemThrottle:   c.Resources.MemThrottle,
		MemHalt:       c.Resources.MemHalt,
		CPUThrottle:   c.Resources.CPUThrottle,
		CPUWindow:     c.Resources.CPUWindow,
		ThrottleDelay: time.Duration(c.Resources.ThrottleDelayMs) * time.Millisecond,
		Interval:      time.Duration(c.Resources.IntervalMs) * time.Millisecond,
	}
}

// OutputPath resolves one output file name against the output directory.
func (c *Config) OutputPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Output.Dir, name)
}
