package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRow(i int) Row {
	return Row{
		ID:      fmt.Sprintf("Q%d", i),
		LabelEN: fmt.Sprintf("label %d", i),
		LabelJA: "",
		P31:     []string{"Q12136"},
		P279:    []string{},
		MeSH:    []string{},
		ICD10:   []string{},
		ICD9:    []string{},
		SNOMED:  []string{},
		UMLS:    []string{},
	}
}

func readParquet(t *testing.T, path string) arrow.Table {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	fr, err := file.NewParquetReader(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { fr.Close() })

	ar, err := pqarrow.NewFileReader(fr, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	require.NoError(t, err)

	table, err := ar.ReadTable(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { table.Release() })

	return table
}

func TestWriterFlushCadenceAndFinalPartialBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	w, err := NewParquetWriter(path, 2, zap.NewNop(), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Append(testRow(i)))
	}

	// Two full batches flushed automatically, one row still buffered.
	assert.Equal(t, int64(2), w.BatchesFlushed())
	assert.Equal(t, int64(4), w.RowsWritten())
	assert.Equal(t, 1, w.Buffered())

	require.NoError(t, w.Close())
	assert.Equal(t, int64(3), w.BatchesFlushed())
	assert.Equal(t, int64(5), w.RowsWritten())

	table := readParquet(t, path)
	assert.Equal(t, int64(5), table.NumRows())
}

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	w, err := NewParquetWriter(path, 100, zap.NewNop(), nil)
	require.NoError(t, err)

	row := Row{
		ID:      "Q38933",
		LabelEN: "pharyngitis",
		LabelJA: "咽頭炎",
		DescEN:  "inflammation of the pharynx",
		P31:     []string{"Q12136"},
		P279:    []string{"Q3286546", "Q18556617"},
		MeSH:    []string{"D010612"},
		ICD10:   []string{"J02.9"},
		ICD9:    []string{},
		SNOMED:  []string{"405737000"},
		UMLS:    []string{"C0031350"},
	}
	require.NoError(t, w.Append(row))
	require.NoError(t, w.Close())

	table := readParquet(t, path)
	require.Equal(t, int64(1), table.NumRows())
	require.Equal(t, OutputSchema().NumFields(), table.Schema().NumFields())
	for i, field := range OutputSchema().Fields() {
		assert.Equal(t, field.Name, table.Schema().Field(i).Name)
		assert.Equal(t, field.Type.ID(), table.Schema().Field(i).Type.ID())
	}

	idCol := table.Column(0).Data().Chunk(0).(*array.String)
	assert.Equal(t, "Q38933", idCol.Value(0))

	labelJA := table.Column(2).Data().Chunk(0).(*array.String)
	assert.Equal(t, "咽頭炎", labelJA.Value(0))

	p279 := table.Column(6).Data().Chunk(0).(*array.List)
	start, end := p279.ValueOffsets(0)
	values := p279.ListValues().(*array.String)
	require.Equal(t, int64(2), end-start)
	assert.Equal(t, "Q3286546", values.Value(int(start)))
	assert.Equal(t, "Q18556617", values.Value(int(start)+1))
}

func TestWriterEmptyRunProducesReadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	w, err := NewParquetWriter(path, 10, zap.NewNop(), nil)
	require.NoError(t, err)

	require.NoError(t, w.Close())

	table := readParquet(t, path)
	assert.Equal(t, int64(0), table.NumRows())
	assert.Equal(t, OutputSchema().NumFields(), table.Schema().NumFields())
}

func TestWriterCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	w, err := NewParquetWriter(path, 10, zap.NewNop(), nil)
	require.NoError(t, err)

	require.NoError(t, w.Append(testRow(1)))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	err = w.Append(testRow(2))
	require.Error(t, err)
}

func TestWriterCreatesOutputDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.parquet")
	w, err := NewParquetWriter(path, 10, zap.NewNop(), nil)
	require.NoError(t, err)

	require.NoError(t, w.Append(testRow(1)))
	require.NoError(t, w.Close())

	table := readParquet(t, path)
	assert.Equal(t, int64(1), table.NumRows())
}

func TestWriterSchemaHasOneListColumnPerClaimKind(t *testing.T) {
	schema := OutputSchema()

	require.Equal(t, 5+len(claimKinds), schema.NumFields())
	for i, kind := range claimKinds {
		field := schema.Field(5 + i)
		assert.Equal(t, kind.Column, field.Name)
		assert.True(t, arrow.TypeEqual(field.Type, arrow.ListOf(arrow.BinaryTypes.String)))
	}
}
