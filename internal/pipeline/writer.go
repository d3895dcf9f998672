package pipeline

import (
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"go.uber.org/zap"

	"github.com/TanukiMa/wikidataseekmed/pkg/metrics"
	"github.com/TanukiMa/wikidataseekmed/pkg/seekerrors"
)

// OutputSchema is the fixed parquet schema: identifier, one label and one
// description column per supported language, and one list<utf8> column per
// relation/identifier kind. It is identical across every batch written to a
// file; the writer enforces that rather than assuming it.
func OutputSchema() *arrow.Schema {
	fields := []arrow.Field{
		{Name: ColumnID, Type: arrow.BinaryTypes.String},
		{Name: ColumnLabelEN, Type: arrow.BinaryTypes.String},
		{Name: ColumnLabelJA, Type: arrow.BinaryTypes.String},
		{Name: ColumnDescEN, Type: arrow.BinaryTypes.String},
		{Name: ColumnDescJA, Type: arrow.BinaryTypes.String},
	}
	for _, kind := range claimKinds {
		fields = append(fields, arrow.Field{
			Name: kind.Column,
			Type: arrow.ListOf(arrow.BinaryTypes.String),
		})
	}
	return arrow.NewSchema(fields, nil)
}

// ParquetWriter accumulates projected rows in arrow column builders and
// flushes a record batch to the output file each time the configured row
// threshold is reached. The physical file is bound lazily on the first
// flush; Close always produces a valid file, even for zero rows.
type ParquetWriter struct {
	path      string
	batchSize int
	logger    *zap.Logger
	collector *metrics.Collector

	schema  *arrow.Schema
	builder *array.RecordBuilder

	file       *os.File
	fileWriter *pqarrow.FileWriter

	buffered       int
	rowsWritten    int64
	batchesFlushed int64
	closed         bool
}

// NewParquetWriter creates the writer. The output file itself is not created
// until the first flush.
func NewParquetWriter(path string, batchSize int, logger *zap.Logger, collector *metrics.Collector) (*ParquetWriter, error) {
	if batchSize <= 0 {
		return nil, seekerrors.New(seekerrors.ErrorTypeConfig, "batch size must be positive").
			WithDetail("batch_size", batchSize)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, seekerrors.Wrap(err, seekerrors.ErrorTypeWrite, "failed to create output directory").
				WithDetail("dir", dir)
		}
	}

	schema := OutputSchema()
	return &ParquetWriter{
		path:      path,
		batchSize: batchSize,
		logger:    logger,
		collector: collector,
		schema:    schema,
		builder:   array.NewRecordBuilder(memory.NewGoAllocator(), schema),
	}, nil
}

// Append adds one row to the column buffers, flushing automatically when the
// batch threshold is reached.
func (w *ParquetWriter) Append(row Row) error {
	if w.closed {
		return seekerrors.New(seekerrors.ErrorTypeWrite, "append after close")
	}

	w.builder.Field(0).(*array.StringBuilder).Append(row.ID)
	w.builder.Field(1).(*array.StringBuilder).Append(row.LabelEN)
	w.builder.Field(2).(*array.StringBuilder).Append(row.LabelJA)
	w.builder.Field(3).(*array.StringBuilder).Append(row.DescEN)
	w.builder.Field(4).(*array.StringBuilder).Append(row.DescJA)

	lists := [][]string{row.P31, row.P279, row.MeSH, row.ICD10, row.ICD9, row.SNOMED, row.UMLS}
	for i, values := range lists {
		lb := w.builder.Field(5 + i).(*array.ListBuilder)
		vb := lb.ValueBuilder().(*array.StringBuilder)
		lb.Append(true)
		for _, v := range values {
			vb.Append(v)
		}
	}

	w.buffered++
	if w.collector != nil {
		w.collector.BufferedRows.Set(float64(w.buffered))
	}

	if w.buffered >= w.batchSize {
		return w.Flush()
	}
	return nil
}

// Flush writes the buffered rows as one record batch and clears the buffers.
// Flushing nothing is a no-op.
func (w *ParquetWriter) Flush() error {
	if w.buffered == 0 {
		return nil
	}

	// Every column must carry exactly one value per buffered row before a
	// batch may be cut; a mismatch means a half-appended row.
	for i := 0; i < len(w.schema.Fields()); i++ {
		if got := w.builder.Field(i).Len(); got != w.buffered {
			return seekerrors.New(seekerrors.ErrorTypeWrite, "column length mismatch at flush").
				WithDetail("column", w.schema.Field(i).Name).
				WithDetail("column_rows", got).
				WithDetail("buffered_rows", w.buffered)
		}
	}

	if err := w.ensureOpen(); err != nil {
		return err
	}

	rec := w.builder.NewRecord()
	defer rec.Release()

	if err := w.fileWriter.WriteBuffered(rec); err != nil {
		return seekerrors.Wrap(err, seekerrors.ErrorTypeWrite, "failed to write record batch").
			WithDetail("path", w.path)
	}

	w.rowsWritten += int64(w.buffered)
	w.batchesFlushed++
	if w.collector != nil {
		w.collector.RowsWritten.Add(float64(w.buffered))
		w.collector.BatchesFlushed.Inc()
		w.collector.BufferedRows.Set(0)
	}
	w.buffered = 0

	return nil
}

// Close flushes any remaining partial batch and closes the file exactly once.
// It must run even on error exits; a missing close is what produces a
// truncated, unreadable parquet file.
func (w *ParquetWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	flushErr := w.Flush()

	// Bind the file even if no row was ever appended, so a completed run
	// always leaves a readable (possibly empty) output.
	if w.fileWriter == nil {
		if err := w.ensureOpen(); err != nil {
			w.builder.Release()
			return err
		}
	}

	// fileWriter.Close also closes the underlying os.File (the parquet
	// writer closes its sink), so the file must not be closed again here.
	var closeErr error
	if err := w.fileWriter.Close(); err != nil {
		closeErr = seekerrors.Wrap(err, seekerrors.ErrorTypeWrite, "failed to close parquet writer").
			WithDetail("path", w.path)
	}
	w.builder.Release()

	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// RowsWritten returns the number of rows flushed to the file so far.
func (w *ParquetWriter) RowsWritten() int64 {
	return w.rowsWritten
}

// BatchesFlushed returns the number of batches written so far.
func (w *ParquetWriter) BatchesFlushed() int64 {
	return w.batchesFlushed
}

// Buffered returns the number of rows awaiting the next flush.
func (w *ParquetWriter) Buffered() int {
	return w.buffered
}

func (w *ParquetWriter) ensureOpen() error {
	if w.fileWriter != nil {
		return nil
	}

	f, err := os.Create(w.path) //nolint:gosec // G304: path is operator-supplied
	if err != nil {
		return seekerrors.Wrap(err, seekerrors.ErrorTypeWrite, "failed to create output file").
			WithDetail("path", w.path)
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
	)
	arrowProps := pqarrow.NewArrowWriterProperties()

	fw, err := pqarrow.NewFileWriter(w.schema, f, props, arrowProps)
	if err != nil {
		f.Close()
		return seekerrors.Wrap(err, seekerrors.ErrorTypeWrite, "failed to create parquet writer").
			WithDetail("path", w.path)
	}

	w.file = f
	w.fileWriter = fw
	w.logger.Info("output file opened",
		zap.String("path", w.path),
		zap.Int("batch_size", w.batchSize))
	return nil
}
