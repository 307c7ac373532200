package acs5

import (
	"bytes"
	"encoding/csv"
	"fmt"

	_ "embed"
)

// labels.csv is the curated catalog: the cleaned-up topic, concept
// and label published for each production variable. API metadata is
// only a fallback for uncurated codes.
//
//go:embed labels.csv
var labelsCsv []byte

type CatalogEntry struct {
	Topic   string
	Concept string
	Label   string
}

var catalog = mustParseCatalog(labelsCsv)

func mustParseCatalog(raw []byte) map[string]CatalogEntry {
	records, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	if err != nil {
		panic(fmt.Sprintf("parse embedded labels.csv: %v", err))
	}
	entries := make(map[string]CatalogEntry, len(records))
	for i, record := range records {
		// header row
		if i == 0 {
			continue
		}
		entries[record[0]] = CatalogEntry{
			Topic:   record[1],
			Concept: record[2],
			Label:   record[3],
		}
	}
	return entries
}
