package pipeline

import (
	"bufio"
	"context"
	"io"
	"strings"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/TanukiMa/wikidataseekmed/pkg/seekerrors"
)

// maxNDJSONLine bounds a single compact record. The largest entities in a
// full dump stay well under this.
const maxNDJSONLine = 64 << 20

// compactRecord is the pre-projected NDJSON row shape produced by earlier
// extraction passes: short keys for labels, descriptions and external codes.
type compactRecord struct {
	ID   string                 `json:"id"`
	L    map[string]string      `json:"l"`
	D    map[string]string      `json:"d"`
	Ext  map[string]flexStrings `json:"ext"`
	P31  flexStrings            `json:"P31"`
	P279 flexStrings            `json:"P279"`
}

// flexStrings accepts null, a scalar, or a list and normalizes to a string
// list, matching the loose typing of the historical extracts.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = nil
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var raw []gojson.RawMessage
		if err := gojson.Unmarshal(data, &raw); err != nil {
			return err
		}
		out := make([]string, 0, len(raw))
		for _, el := range raw {
			out = append(out, rawToString(el))
		}
		*f = out
		return nil
	}

	*f = []string{rawToString(data)}
	return nil
}

func rawToString(raw gojson.RawMessage) string {
	var s string
	if err := gojson.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// ConvertNDJSON reads compact NDJSON records from r and appends them to
// writer. Malformed lines are skipped and counted, like malformed dump
// records. The caller owns closing the writer.
func ConvertNDJSON(ctx context.Context, r io.Reader, writer *ParquetWriter, logger *zap.Logger) (Stats, error) {
	var stats Stats

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxNDJSONLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return stats, seekerrors.Wrap(ctx.Err(), seekerrors.ErrorTypeSource, "conversion cancelled")
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		stats.RecordsFramed++

		var rec compactRecord
		if err := gojson.Unmarshal([]byte(line), &rec); err != nil {
			stats.ParseErrors++
			if stats.ParseErrors == 1 || stats.ParseErrors%parseErrorLogSample == 0 {
				logger.Warn("skipping malformed line",
					zap.Int64("parse_errors", stats.ParseErrors),
					zap.Error(err))
			}
			continue
		}

		row := Row{
			ID:      rec.ID,
			LabelEN: rec.L["en"],
			LabelJA: rec.L["ja"],
			DescEN:  rec.D["en"],
			DescJA:  rec.D["ja"],
			P31:     orEmpty(rec.P31),
			P279:    orEmpty(rec.P279),
			MeSH:    orEmpty(rec.Ext["mesh"]),
			ICD10:   orEmpty(rec.Ext["icd10"]),
			ICD9:    orEmpty(rec.Ext["icd9"]),
			SNOMED:  orEmpty(rec.Ext["snomed"]),
			UMLS:    orEmpty(rec.Ext["umls"]),
		}
		if err := writer.Append(row); err != nil {
			return stats, err
		}
		stats.RowsWritten++
	}

	if err := scanner.Err(); err != nil {
		return stats, seekerrors.Wrap(err, seekerrors.ErrorTypeSource, "input read failed")
	}
	return stats, nil
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
