// Command wikidataseekmed streams the Wikidata entity dump into a parquet
// file of medical terminology rows.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TanukiMa/wikidataseekmed/internal/pipeline"
	"github.com/TanukiMa/wikidataseekmed/pkg/config"
	"github.com/TanukiMa/wikidataseekmed/pkg/logger"
	"github.com/TanukiMa/wikidataseekmed/pkg/metrics"
)

var version = "0.2.0"

func main() {
	root := &cobra.Command{
		Use:   "wikidataseekmed",
		Short: "Stream the Wikidata entity dump into medical-terminology parquet",
		Long: `wikidataseekmed converts the multi-hundred-GiB Wikidata entity dump into a
compact parquet file of medical terminology (labels, descriptions, taxonomy
and external code systems) in a single streaming pass, without staging the
dump on local disk.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wikidataseekmed v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newStreamCmd())
	root.AddCommand(newConvertCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newStreamCmd builds the main dump-to-parquet command.
func newStreamCmd() *cobra.Command {
	var (
		configFile  string
		dumpURL     string
		output      string
		batchSize   int
		chunkSize   int
		logLevel    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream a dump snapshot to parquet",
		Long: `Stream a compressed JSON-array dump over HTTP (or from a local file),
frame complete entity objects, project the medical-terminology fields and
append row batches to one parquet file.

Example:
  wikidataseekmed stream --output out/wikidata_med.parquet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.New()
			if configFile != "" {
				if err := config.Load(configFile, cfg); err != nil {
					return err
				}
			}
			if dumpURL != "" {
				cfg.Source.URL = dumpURL
			}
			if output != "" {
				cfg.Writer.Output = output
			}
			if cmd.Flags().Changed("batch-size") {
				cfg.Writer.BatchSize = batchSize
			}
			if cmd.Flags().Changed("chunk-size") {
				cfg.Source.ChunkSize = chunkSize
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}
			if metricsAddr != "" {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Listen = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runStream(cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&dumpURL, "url", "", "Dump URL or local file path (default: latest-all.json.bz2)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output parquet path")
	cmd.Flags().IntVar(&batchSize, "batch-size", 20000, "Rows per parquet write batch")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 1<<20, "Network read size in bytes")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-listen", "", "Expose prometheus metrics on this address (disabled when empty)")

	return cmd
}

func runStream(cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
		Development: cfg.Logging.Development,
	}); err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	log := logger.With(zap.String("component", "stream"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector, registry := metrics.NewCollector()
	if cfg.Metrics.Enabled {
		metrics.Serve(ctx, cfg.Metrics.Listen, registry, log)
		log.Info("metrics endpoint enabled", zap.String("listen", cfg.Metrics.Listen))
	}

	log.Info("starting dump conversion",
		zap.String("url", cfg.Source.URL),
		zap.String("output", cfg.Writer.Output),
		zap.Int("batch_size", cfg.Writer.BatchSize),
		zap.Int("chunk_size", cfg.Source.ChunkSize))

	start := time.Now()
	stats, err := pipeline.New(cfg, log, collector).Run(ctx)

	fields := []zap.Field{
		zap.Int64("bytes_downloaded", stats.BytesDownloaded),
		zap.Int64("records_framed", stats.RecordsFramed),
		zap.Int64("rows_written", stats.RowsWritten),
		zap.Int64("records_skipped", stats.RecordsSkipped),
		zap.Int64("parse_errors", stats.ParseErrors),
		zap.Bool("incomplete_remainder", stats.IncompleteRemainder),
		zap.Duration("duration", time.Since(start).Round(time.Second)),
	}
	if err != nil {
		log.Error("conversion aborted", append(fields, zap.Error(err))...)
		return err
	}

	log.Info("conversion complete", fields...)
	return nil
}

// newConvertCmd builds the NDJSON-to-parquet command for pre-extracted
// compact records.
func newConvertCmd() *cobra.Command {
	var (
		input     string
		output    string
		batchSize int
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert compact NDJSON records to parquet",
		Long: `Read pre-extracted compact NDJSON records (one object per line, short
l/d/ext keys) from a file or stdin and write the same parquet schema the
stream command produces.

Example:
  zcat extract.ndjson.gz | wikidataseekmed convert --output out/extract.parquet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(input, output, batchSize, logLevel)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "Input NDJSON path, or - for stdin")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output parquet path (required)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 50000, "Rows per parquet write batch")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runConvert(input, output string, batchSize int, logLevel string) error {
	if err := logger.Init(logger.Config{Level: logLevel, Encoding: "json"}); err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	log := logger.With(zap.String("component", "convert"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in := os.Stdin
	if input != "-" {
		f, err := os.Open(input) //nolint:gosec // G304: path is operator-supplied
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	writer, err := pipeline.NewParquetWriter(output, batchSize, log, nil)
	if err != nil {
		return err
	}

	stats, convErr := pipeline.ConvertNDJSON(ctx, in, writer, log)
	if cerr := writer.Close(); cerr != nil && convErr == nil {
		convErr = cerr
	}

	fields := []zap.Field{
		zap.Int64("rows_written", writer.RowsWritten()),
		zap.Int64("parse_errors", stats.ParseErrors),
	}
	if convErr != nil {
		log.Error("conversion aborted", append(fields, zap.Error(convErr))...)
		return convErr
	}
	log.Info("conversion complete", fields...)
	return nil
}
