package pipeline

import (
	"compress/bzip2"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/TanukiMa/wikidataseekmed/pkg/seekerrors"
)

// Format identifies the dump's compression container.
type Format string

const (
	// FormatNone means the dump is plain JSON.
	FormatNone Format = "none"
	// FormatBzip2 is the canonical latest-all.json.bz2 container.
	FormatBzip2 Format = "bzip2"
	// FormatGzip is the alternative latest-all.json.gz container.
	FormatGzip Format = "gzip"
	// FormatZstd covers zstandard-compressed snapshots.
	FormatZstd Format = "zstd"
	// FormatLZ4 covers lz4-framed snapshots.
	FormatLZ4 Format = "lz4"
)

// DetectFormat infers the compression format from a URL or file path suffix.
func DetectFormat(name string) Format {
	trimmed := strings.TrimSuffix(name, "?download")
	switch {
	case strings.HasSuffix(trimmed, ".bz2"):
		return FormatBzip2
	case strings.HasSuffix(trimmed, ".gz"):
		return FormatGzip
	case strings.HasSuffix(trimmed, ".zst"), strings.HasSuffix(trimmed, ".zstd"):
		return FormatZstd
	case strings.HasSuffix(trimmed, ".lz4"):
		return FormatLZ4
	default:
		return FormatNone
	}
}

// NewDecompressor wraps the raw source in an incremental decompressor for
// the given format. The returned reader holds partial-frame state across
// reads; a zero-byte read is internal buffering, not end of stream. Corrupt
// or truncated input surfaces as a read error, which the driver classifies
// as fatal.
func NewDecompressor(format Format, r io.Reader) (io.ReadCloser, error) {
	switch format {
	case FormatNone:
		return io.NopCloser(r), nil
	case FormatBzip2:
		// The stdlib reader is the one maintained streaming bzip2 decoder
		// in the Go ecosystem.
		return io.NopCloser(bzip2.NewReader(r)), nil
	case FormatGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, seekerrors.Wrap(err, seekerrors.ErrorTypeDecompress, "failed to open gzip stream")
		}
		return gz, nil
	case FormatZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, seekerrors.Wrap(err, seekerrors.ErrorTypeDecompress, "failed to open zstd stream")
		}
		return zr.IOReadCloser(), nil
	case FormatLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, seekerrors.New(seekerrors.ErrorTypeDecompress, "unsupported compression format").
			WithDetail("format", string(format))
	}
}
