package library

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
books:
  - title: "1984"
    author: George Orwell
    category: Dystopia
    isbn: "9780451524935"
    quantity: 2
  - title: Animal Farm
    author: George Orwell
    category: Satire
    isbn: "9780451526342"
  - title: Duplicate
    author: Nobody
    category: Satire
    isbn: "9780451526342"
`

func TestImportCatalog(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	entries, err := ParseCatalog(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	results := mgr.ImportCatalog(ctx, entries)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, ErrDuplicateISBN)

	farm, err := mgr.GetBook(ctx, results[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, farm.Quantity, "quantity defaults to one copy")
}

func TestParseCatalogRejectsUnknownFields(t *testing.T) {
	_, err := ParseCatalog(strings.NewReader("books:\n  - title: X\n    pages: 3\n"))
	assert.Error(t, err)

	entries, err := ParseCatalog(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
