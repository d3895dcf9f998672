// Package config provides the configuration for the dump converter.
// One sectioned structure covers the network source, the parquet writer,
// logging and the optional metrics endpoint. Values come from a YAML file
// with ${ENV} substitution; CLI flags override file values.
package config

import (
	"net/url"
	"time"

	"github.com/TanukiMa/wikidataseekmed/pkg/seekerrors"
)

// DumpURL is the canonical Wikidata full-entity dump.
const DumpURL = "https://dumps.wikimedia.org/wikidatawiki/entities/latest-all.json.bz2"

// UserAgent identifies this tool to dumps.wikimedia.org, per their bot policy.
const UserAgent = "wikidataseekmed/stream-to-parquet (+https://github.com/TanukiMa/wikidataseekmed)"

// Config is the root configuration.
type Config struct {
	Source  SourceConfig  `yaml:"source" json:"source"`
	Writer  WriterConfig  `yaml:"writer" json:"writer"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// ProgressInterval controls how often throughput/row-count progress is
	// logged during a run.
	ProgressInterval time.Duration `yaml:"progress_interval" json:"progress_interval"`
}

// SourceConfig configures the chunked HTTP dump source.
type SourceConfig struct {
	// URL of the compressed JSON-array dump snapshot.
	URL string `yaml:"url" json:"url"`
	// UserAgent sent with the request.
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	// ChunkSize is the network read size in bytes.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// RequestTimeout caps the whole request. Zero means unlimited; a full
	// dump download runs for many hours.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// DialTimeout caps connection establishment.
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	// ReadTimeout caps inactivity between reads on the response body.
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`
}

// WriterConfig configures the parquet batch writer.
type WriterConfig struct {
	// Output is the parquet file path.
	Output string `yaml:"output" json:"output"`
	// BatchSize is the number of buffered rows per parquet write batch.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Encoding    string `yaml:"encoding" json:"encoding"`
	Development bool   `yaml:"development" json:"development"`
}

// MetricsConfig configures the optional prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// New returns a Config with defaults matching a full-dump run.
func New() *Config {
	return &Config{
		Source: SourceConfig{
			URL:         DumpURL,
			UserAgent:   UserAgent,
			ChunkSize:   1 << 20, // 1 MiB
			DialTimeout: 30 * time.Second,
			ReadTimeout: 5 * time.Minute,
		},
		Writer: WriterConfig{
			Output:    "out/wikidata_med.parquet",
			BatchSize: 20000,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
		},
		ProgressInterval: 5 * time.Second,
	}
}

// Validate checks the configuration for a stream run.
func (c *Config) Validate() error {
	if c.Source.URL == "" {
		return seekerrors.New(seekerrors.ErrorTypeConfig, "source.url is required")
	}
	u, err := url.Parse(c.Source.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "file" && u.Scheme != "") {
		return seekerrors.New(seekerrors.ErrorTypeConfig, "source.url must be an http(s) URL or a file path").
			WithDetail("url", c.Source.URL)
	}
	if c.Source.ChunkSize <= 0 {
		return seekerrors.New(seekerrors.ErrorTypeConfig, "source.chunk_size must be positive").
			WithDetail("chunk_size", c.Source.ChunkSize)
	}
	if c.Writer.Output == "" {
		return seekerrors.New(seekerrors.ErrorTypeConfig, "writer.output is required")
	}
	if c.Writer.BatchSize <= 0 {
		return seekerrors.New(seekerrors.ErrorTypeConfig, "writer.batch_size must be positive").
			WithDetail("batch_size", c.Writer.BatchSize)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return seekerrors.New(seekerrors.ErrorTypeConfig, "metrics.listen is required when metrics are enabled")
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 5 * time.Second
	}
	return nil
}
