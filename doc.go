// Package wikidataseekmed converts the Wikidata entity dump into parquet
// files of medical terminology.
//
// The dump is one compressed JSON array of entity objects, hundreds of GiB
// compressed, that cannot be staged on local disk. The converter streams it
// over chunked HTTP, decompresses incrementally, recovers complete entity
// objects with a quote- and escape-aware brace scanner, projects the fields
// of interest (English/Japanese labels and descriptions, taxonomic relations,
// MeSH/ICD/SNOMED/UMLS codes) and appends row batches to a parquet file,
// holding only the current chunk and one partial record in memory.
//
// See cmd/wikidataseekmed for the CLI and internal/pipeline for the
// conversion stages.
package wikidataseekmed
