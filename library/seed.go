package library

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// CatalogEntry is one book in a seed file.
type CatalogEntry struct {
	Title       string `yaml:"title"`
	Author      string `yaml:"author"`
	Category    string `yaml:"category"`
	ISBN        string `yaml:"isbn"`
	Quantity    *int   `yaml:"quantity"`
	Description string `yaml:"description"`
}

// ParseCatalog decodes a YAML seed file of the form
//
//	books:
//	  - title: Dune
//	    author: Frank Herbert
//	    category: Science Fiction
//	    isbn: "9780441172719"
//	    quantity: 2
func ParseCatalog(r io.Reader) ([]CatalogEntry, error) {
	var doc struct {
		Books []CatalogEntry `yaml:"books"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return doc.Books, nil
}

// ImportResult reports what happened to one seed entry.
type ImportResult struct {
	Entry CatalogEntry
	ID    int64
	Err   error
}

// ImportCatalog adds every entry, continuing past individual failures.
// Quantity defaults to one copy when the entry leaves it out.
func (lm *LibraryManager) ImportCatalog(ctx context.Context, entries []CatalogEntry) []ImportResult {
	results := make([]ImportResult, 0, len(entries))
	for _, e := range entries {
		qty := 1
		if e.Quantity != nil {
			qty = *e.Quantity
		}
		id, err := lm.AddBookByNames(ctx, e.Title, e.Author, e.Category, e.ISBN, qty, e.Description)
		results = append(results, ImportResult{Entry: e, ID: id, Err: err})
	}
	return results
}
