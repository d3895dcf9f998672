package pipeline

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TanukiMa/wikidataseekmed/pkg/config"
	"github.com/TanukiMa/wikidataseekmed/pkg/seekerrors"
)

const (
	entityQ1 = `{"id":"Q1","labels":{"en":{"language":"en","value":"fever"}},"claims":{"P486":[{"rank":"normal","mainsnak":{"snaktype":"value","datavalue":{"value":"D005334"}}}]}}`
	entityQ2 = `{"id":"Q2","labels":{"ja":{"language":"ja","value":"咽頭炎"}}}`
	entityQ3 = `{"id":"Q3","labels":{"de":{"language":"de","value":"irrelevant"}}}`
)

func gzipBytes(t *testing.T, data string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func serveDump(t *testing.T, body []byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "wikidataseekmed")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(url, output string) *config.Config {
	cfg := config.New()
	cfg.Source.URL = url
	cfg.Source.ChunkSize = 64 // tiny chunks to exercise incremental paths
	cfg.Writer.Output = output
	cfg.Writer.BatchSize = 2
	cfg.ProgressInterval = time.Hour
	return cfg
}

func TestPipelineEndToEnd(t *testing.T) {
	doc := "[\n" + entityQ1 + ",\n" + entityQ2 + ",\n" + entityQ3 + "\n]"
	srv := serveDump(t, gzipBytes(t, doc))

	output := filepath.Join(t.TempDir(), "out.parquet")
	cfg := testConfig(srv.URL+"/latest-all.json.gz", output)

	stats, err := New(cfg, zap.NewNop(), nil).Run(context.Background())
	require.NoError(t, err)

	// Q3 is well-formed but irrelevant; only Q1 and Q2 become rows.
	assert.Equal(t, int64(3), stats.RecordsFramed)
	assert.Equal(t, int64(2), stats.RowsWritten)
	assert.Equal(t, int64(1), stats.RecordsSkipped)
	assert.Equal(t, int64(0), stats.ParseErrors)
	assert.False(t, stats.IncompleteRemainder)
	assert.Greater(t, stats.BytesDownloaded, int64(0))

	table := readParquet(t, output)
	assert.Equal(t, int64(2), table.NumRows())
}

func TestPipelineTruncatedMidStream(t *testing.T) {
	// The 2nd object is cut off, simulating a dropped connection. Exactly
	// one row comes out, the run fails, and the output file still closes
	// readable with that one row.
	doc := "[\n" + entityQ1 + ",\n" + entityQ2[:40]
	srv := serveDump(t, gzipBytes(t, doc))

	output := filepath.Join(t.TempDir(), "out.parquet")
	cfg := testConfig(srv.URL+"/latest-all.json.gz", output)

	stats, err := New(cfg, zap.NewNop(), nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, stats.IncompleteRemainder)
	assert.Equal(t, int64(1), stats.RowsWritten)

	table := readParquet(t, output)
	assert.Equal(t, int64(1), table.NumRows())
}

func TestPipelineMalformedRecordIsSkipped(t *testing.T) {
	// An unbalanced-quote record frames fine but fails to parse; the run
	// continues past it.
	doc := `[{"id":"Q1","labels":{"en":{"value":truncated}}},` + entityQ1 + `]`
	srv := serveDump(t, gzipBytes(t, doc))

	output := filepath.Join(t.TempDir(), "out.parquet")
	cfg := testConfig(srv.URL+"/latest-all.json.gz", output)

	stats, err := New(cfg, zap.NewNop(), nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), stats.ParseErrors)
	assert.Equal(t, int64(1), stats.RowsWritten)
}

func TestPipelineHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	output := filepath.Join(t.TempDir(), "out.parquet")
	cfg := testConfig(srv.URL+"/latest-all.json.gz", output)

	_, err := New(cfg, zap.NewNop(), nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, seekerrors.IsType(err, seekerrors.ErrorTypeSource))
}

func TestPipelineCorruptCompressedStream(t *testing.T) {
	valid := gzipBytes(t, "[\n"+entityQ1+",\n"+entityQ2+"\n]")
	corrupt := append(append([]byte{}, valid[:len(valid)/2]...), 0x00, 0x01, 0x02, 0x03)
	srv := serveDump(t, corrupt)

	output := filepath.Join(t.TempDir(), "out.parquet")
	cfg := testConfig(srv.URL+"/latest-all.json.gz", output)

	_, err := New(cfg, zap.NewNop(), nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, seekerrors.IsType(err, seekerrors.ErrorTypeDecompress))
}

func TestPipelineLocalPlainFile(t *testing.T) {
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "dump.json")
	doc := "[" + entityQ1 + "," + entityQ2 + "]"
	require.NoError(t, os.WriteFile(dumpPath, []byte(doc), 0o644))

	output := filepath.Join(dir, "out.parquet")
	cfg := testConfig(dumpPath, output)

	stats, err := New(cfg, zap.NewNop(), nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.RowsWritten)
}

func TestPipelineCancelledContextStillClosesOutput(t *testing.T) {
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "dump.json")
	require.NoError(t, os.WriteFile(dumpPath, []byte("["+entityQ1+"]"), 0o644))

	output := filepath.Join(dir, "out.parquet")
	cfg := testConfig(dumpPath, output)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(cfg, zap.NewNop(), nil).Run(ctx)
	require.Error(t, err)

	// Close ran on the error path; the file exists and is readable.
	table := readParquet(t, output)
	assert.Equal(t, int64(0), table.NumRows())
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		want Format
	}{
		{"https://dumps.wikimedia.org/wikidatawiki/entities/latest-all.json.bz2", FormatBzip2},
		{"https://dumps.wikimedia.org/wikidatawiki/entities/latest-all.json.gz", FormatGzip},
		{"/data/dump.json.zst", FormatZstd},
		{"/data/dump.json.lz4", FormatLZ4},
		{"/data/dump.json", FormatNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectFormat(tt.name), tt.name)
	}
}

func TestFramerReconstructsArrayMembers(t *testing.T) {
	// Re-framing property: concatenating the framed objects reproduces the
	// array members exactly, independent of how the text was chunked.
	members := []string{entityQ1, entityQ2, entityQ3}
	doc := "[" + strings.Join(members, ",") + "]"

	for _, chunkSize := range []int{1, 13, 64, len(doc)} {
		f := NewFramer()
		objects := feedAll(f, doc, chunkSize)
		require.Equal(t, members, objects, "chunk size %d", chunkSize)
	}
}
