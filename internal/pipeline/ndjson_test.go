package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func convert(t *testing.T, input string) (Stats, string) {
	t.Helper()

	output := filepath.Join(t.TempDir(), "out.parquet")
	w, err := NewParquetWriter(output, 3, zap.NewNop(), nil)
	require.NoError(t, err)

	stats, err := ConvertNDJSON(context.Background(), strings.NewReader(input), w, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return stats, output
}

func TestConvertNDJSON(t *testing.T) {
	input := `{"id":"Q1","l":{"en":"fever","ja":"発熱"},"d":{"en":"elevated body temperature"},"ext":{"mesh":["D005334"],"icd10":["R50.9"]},"P31":["Q12136"]}
{"id":"Q2","l":{"en":"cough"},"ext":{"mesh":"D003371"}}
{"id":"Q3","l":{},"P279":null}
`

	stats, output := convert(t, input)

	assert.Equal(t, int64(3), stats.RowsWritten)
	assert.Equal(t, int64(0), stats.ParseErrors)

	table := readParquet(t, output)
	assert.Equal(t, int64(3), table.NumRows())
}

func TestConvertNDJSONScalarExtBecomesSingletonList(t *testing.T) {
	var rec compactRecord
	require.NoError(t, rec.P31.UnmarshalJSON([]byte(`"Q42"`)))
	assert.Equal(t, flexStrings{"Q42"}, rec.P31)

	require.NoError(t, rec.P31.UnmarshalJSON([]byte(`["Q1",2,"Q3"]`)))
	assert.Equal(t, flexStrings{"Q1", "2", "Q3"}, rec.P31)

	require.NoError(t, rec.P31.UnmarshalJSON([]byte(`null`)))
	assert.Nil(t, rec.P31)
}

func TestConvertNDJSONSkipsMalformedLines(t *testing.T) {
	input := `{"id":"Q1","l":{"en":"fever"}}
this is not json
{"id":"Q2","l":{"en":"cough"}}
`

	stats, output := convert(t, input)

	assert.Equal(t, int64(2), stats.RowsWritten)
	assert.Equal(t, int64(1), stats.ParseErrors)

	table := readParquet(t, output)
	assert.Equal(t, int64(2), table.NumRows())
}

func TestConvertNDJSONSkipsBlankLines(t *testing.T) {
	input := "\n\n" + `{"id":"Q1","l":{"en":"fever"}}` + "\n\n"

	stats, _ := convert(t, input)

	assert.Equal(t, int64(1), stats.RowsWritten)
	assert.Equal(t, int64(0), stats.ParseErrors)
}
