package pipeline

import (
	gojson "github.com/goccy/go-json"

	"github.com/TanukiMa/wikidataseekmed/pkg/seekerrors"
)

// Projected output schema. The language and claim sets are fixed at process
// start; every list column carries strings regardless of the underlying kind.
const (
	ColumnID      = "id"
	ColumnLabelEN = "label_en"
	ColumnLabelJA = "label_ja"
	ColumnDescEN  = "desc_en"
	ColumnDescJA  = "desc_ja"
)

// claimKind maps one Wikidata property to one list-of-string output column.
// Entity kinds reference other items and resolve to their Q-identifier;
// literal kinds (external code systems) resolve to the value's string form.
type claimKind struct {
	Property string
	Column   string
	Entity   bool
}

// claimKinds is the fixed set of relation/identifier kinds projected into
// the output: taxonomic relations plus the medical code systems MeSH,
// ICD-10, ICD-9, SNOMED CT and UMLS CUI.
var claimKinds = []claimKind{
	{Property: "P31", Column: "P31", Entity: true},
	{Property: "P279", Column: "P279", Entity: true},
	{Property: "P486", Column: "mesh", Entity: false},
	{Property: "P494", Column: "icd10", Entity: false},
	{Property: "P493", Column: "icd9", Entity: false},
	{Property: "P5806", Column: "snomed", Entity: false},
	{Property: "P2892", Column: "umls", Entity: false},
}

// Row is one fixed-schema output record. Missing labels and descriptions are
// empty strings, never nulls; list fields may be empty but are always present.
type Row struct {
	ID      string
	LabelEN string
	LabelJA string
	DescEN  string
	DescJA  string
	P31     []string
	P279    []string
	MeSH    []string
	ICD10   []string
	ICD9    []string
	SNOMED  []string
	UMLS    []string
}

// Entity is the subset of a Wikidata entity record the projector reads.
type Entity struct {
	ID           string              `json:"id"`
	Labels       map[string]langText `json:"labels"`
	Descriptions map[string]langText `json:"descriptions"`
	Claims       map[string][]claim  `json:"claims"`
}

type langText struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

type claim struct {
	Rank     string `json:"rank"`
	MainSnak snak   `json:"mainsnak"`
}

type snak struct {
	SnakType  string    `json:"snaktype"`
	DataValue dataValue `json:"datavalue"`
}

type dataValue struct {
	Type  string            `json:"type"`
	Value gojson.RawMessage `json:"value"`
}

// ParseEntity parses one complete framed object. A failure here is
// recoverable: the caller skips the record and counts it.
func ParseEntity(data string) (*Entity, error) {
	var e Entity
	if err := gojson.Unmarshal([]byte(data), &e); err != nil {
		return nil, seekerrors.Wrap(err, seekerrors.ErrorTypeRecordParse, "malformed entity object")
	}
	return &e, nil
}

// Keep reports whether an entity is relevant: it has an English or Japanese
// label, or carries any of the projected relation/identifier claims.
func Keep(e *Entity) bool {
	if _, ok := e.Labels["en"]; ok {
		return true
	}
	if _, ok := e.Labels["ja"]; ok {
		return true
	}
	for _, kind := range claimKinds {
		if _, ok := e.Claims[kind.Property]; ok {
			return true
		}
	}
	return false
}

// Project extracts the fixed output fields from a relevant entity.
func Project(e *Entity) Row {
	return Row{
		ID:      e.ID,
		LabelEN: e.Labels["en"].Value,
		LabelJA: e.Labels["ja"].Value,
		DescEN:  e.Descriptions["en"].Value,
		DescJA:  e.Descriptions["ja"].Value,
		P31:     claimValues(e.Claims, claimKinds[0]),
		P279:    claimValues(e.Claims, claimKinds[1]),
		MeSH:    claimValues(e.Claims, claimKinds[2]),
		ICD10:   claimValues(e.Claims, claimKinds[3]),
		ICD9:    claimValues(e.Claims, claimKinds[4]),
		SNOMED:  claimValues(e.Claims, claimKinds[5]),
		UMLS:    claimValues(e.Claims, claimKinds[6]),
	}
}

// claimValues extracts the de-duplicated, order-preserving value list for one
// claim kind. Deprecated-rank claims and non-value snaks (novalue,
// somevalue) contribute nothing.
func claimValues(claims map[string][]claim, kind claimKind) []string {
	out := []string{}
	seen := make(map[string]struct{})

	for _, cl := range claims[kind.Property] {
		if cl.Rank == "deprecated" {
			continue
		}
		if cl.MainSnak.SnakType != "value" {
			continue
		}

		v, ok := snakValue(cl.MainSnak.DataValue, kind.Entity)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}

// snakValue resolves one datavalue to its projected string form.
func snakValue(dv dataValue, entity bool) (string, bool) {
	if len(dv.Value) == 0 {
		return "", false
	}

	if entity {
		var ref struct {
			ID string `json:"id"`
		}
		if err := gojson.Unmarshal(dv.Value, &ref); err != nil || ref.ID == "" {
			return "", false
		}
		return ref.ID, true
	}

	// Literal kinds are string-valued external identifiers. Anything else
	// is kept as its compact JSON text rather than dropped.
	var s string
	if err := gojson.Unmarshal(dv.Value, &s); err == nil {
		return s, true
	}
	return string(dv.Value), true
}
