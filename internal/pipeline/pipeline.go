// Package pipeline implements the streaming dump-to-parquet converter:
// a single-pass, single-threaded chain of chunked network reads,
// incremental decompression, incremental UTF-8 decoding, top-level object
// framing, record projection and batched parquet writes. No stage looks
// ahead of what the previous stage has produced, and peak memory is bounded
// by the chunk size plus the largest single entity record.
package pipeline

import (
	"context"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TanukiMa/wikidataseekmed/pkg/config"
	"github.com/TanukiMa/wikidataseekmed/pkg/metrics"
	"github.com/TanukiMa/wikidataseekmed/pkg/seekerrors"
)

// parseErrorLogSample throttles malformed-record warnings; a legacy dump can
// contain thousands of them.
const parseErrorLogSample = 1000

// Stats summarizes one converter run. Counters are best-effort operational
// output; the parquet file is the authoritative result.
type Stats struct {
	BytesDownloaded int64
	RecordsFramed   int64
	RowsWritten     int64
	RecordsSkipped  int64
	ParseErrors     int64
	// IncompleteRemainder is set when the stream ended mid-record, which
	// means the dump was not fully consumed.
	IncompleteRemainder bool
}

// Pipeline is the converter driver.
type Pipeline struct {
	cfg       *config.Config
	logger    *zap.Logger
	collector *metrics.Collector
}

// New creates a pipeline. collector may be nil when metrics are disabled.
func New(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) *Pipeline {
	return &Pipeline{cfg: cfg, logger: logger, collector: collector}
}

// Run executes the conversion until the stream is exhausted, a fatal error
// occurs, or ctx is cancelled. Whatever rows are buffered at that point are
// flushed and the output file closed before Run returns; only a nil error
// means the whole stream was consumed.
func (p *Pipeline) Run(ctx context.Context) (stats Stats, err error) {
	src, err := OpenSource(ctx, p.cfg.Source, p.logger)
	if err != nil {
		return stats, err
	}
	defer src.Close()

	dec, err := NewDecompressor(DetectFormat(p.cfg.Source.URL), src)
	if err != nil {
		if srcErr := src.Err(); srcErr != nil {
			return stats, srcErr
		}
		return stats, err
	}
	defer dec.Close()

	writer, err := NewParquetWriter(p.cfg.Writer.Output, p.cfg.Writer.BatchSize, p.logger, p.collector)
	if err != nil {
		return stats, err
	}
	// The close must happen on every exit path, or a mid-stream abort
	// leaves an unreadable output file.
	defer func() {
		if cerr := writer.Close(); cerr != nil {
			p.logger.Error("failed to close output", zap.Error(cerr))
			if err == nil {
				err = cerr
			}
		}
		stats.RowsWritten = writer.RowsWritten()
	}()

	decoder := NewTextDecoder()
	framer := NewFramer()
	chunk := make([]byte, p.cfg.Source.ChunkSize)

	start := time.Now()
	lastProgress := start

	runErr := func() error {
		for {
			if ctx.Err() != nil {
				return seekerrors.Wrap(ctx.Err(), seekerrors.ErrorTypeSource, "run cancelled")
			}

			n, readErr := dec.Read(chunk)
			if n > 0 {
				p.observeBytes(src, &stats)
				text := decoder.Decode(chunk[:n], false)
				if err := p.processObjects(framer.Feed(text), writer, &stats); err != nil {
					return err
				}
			}

			if readErr == io.EOF {
				// Flush the decoder's held-back bytes and frame whatever
				// they complete.
				text := decoder.Decode(nil, true)
				if err := p.processObjects(framer.Feed(text), writer, &stats); err != nil {
					return err
				}
				return nil
			}
			if readErr != nil {
				if srcErr := src.Err(); srcErr != nil {
					return srcErr
				}
				return seekerrors.Wrap(readErr, seekerrors.ErrorTypeDecompress, "decompression failed")
			}

			if since := time.Since(lastProgress); since >= p.cfg.ProgressInterval {
				lastProgress = time.Now()
				p.logProgress(src, writer, start)
			}
		}
	}()

	if rem := framer.Remainder(); strings.TrimSpace(rem) != "" {
		stats.IncompleteRemainder = true
		p.logger.Warn("stream ended with incomplete record remainder",
			zap.Int("remainder_bytes", len(rem)))
		if runErr == nil {
			runErr = seekerrors.New(seekerrors.ErrorTypeSource, "stream ended mid-record").
				WithDetail("remainder_bytes", len(rem))
		}
	}

	stats.BytesDownloaded = src.BytesRead()
	p.logProgress(src, writer, start)

	err = runErr
	return stats, err
}

// processObjects parses, filters, projects and appends one batch of framed
// objects. Only writer failures are fatal; a malformed record is skipped and
// counted, and irrelevant records are a normal filtering outcome.
func (p *Pipeline) processObjects(objects []string, writer *ParquetWriter, stats *Stats) error {
	for _, obj := range objects {
		stats.RecordsFramed++
		if p.collector != nil {
			p.collector.RecordsFramed.Inc()
		}

		entity, err := ParseEntity(obj)
		if err != nil {
			stats.ParseErrors++
			if p.collector != nil {
				p.collector.ParseErrors.Inc()
			}
			if stats.ParseErrors == 1 || stats.ParseErrors%parseErrorLogSample == 0 {
				p.logger.Warn("skipping malformed record",
					zap.Int64("parse_errors", stats.ParseErrors),
					zap.Error(err))
			}
			continue
		}

		if !Keep(entity) {
			stats.RecordsSkipped++
			if p.collector != nil {
				p.collector.RecordsSkipped.Inc()
			}
			continue
		}

		if err := writer.Append(Project(entity)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) observeBytes(src Source, stats *Stats) {
	current := src.BytesRead()
	if p.collector != nil && current > stats.BytesDownloaded {
		p.collector.BytesDownloaded.Add(float64(current - stats.BytesDownloaded))
	}
	stats.BytesDownloaded = current
}

func (p *Pipeline) logProgress(src Source, writer *ParquetWriter, start time.Time) {
	elapsed := time.Since(start)
	mib := float64(src.BytesRead()) / (1 << 20)
	rate := 0.0
	if elapsed > 0 {
		rate = mib / elapsed.Seconds()
	}
	p.logger.Info("download progress",
		zap.Float64("downloaded_mib", mib),
		zap.Float64("rate_mib_per_sec", rate),
		zap.Int64("rows_written", writer.RowsWritten()),
		zap.Duration("elapsed", elapsed.Round(time.Second)))
}
