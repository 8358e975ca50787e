package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"library-circulation/library"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func loadCatalog(t *testing.T) catalogFile {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)
	var cat catalogFile
	require.NoError(t, yaml.Unmarshal(raw, &cat))
	return cat
}

func TestImportCatalog(t *testing.T) {
	ctx := context.Background()
	mgr, err := library.NewLibraryManager(filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	cat := loadCatalog(t)
	require.Len(t, cat.Books, 3)
	assert.Equal(t, []string{"Alan Donovan", "Brian Kernighan"}, cat.Books[0].Authors)

	var out bytes.Buffer
	require.NoError(t, importCatalog(ctx, &out, mgr, cat, zap.NewNop()))
	assert.Contains(t, out.String(), "Successfully imported: 2 books")
	assert.Contains(t, out.String(), "Errors: 1")

	branches, err := mgr.Branches(ctx)
	require.NoError(t, err)
	require.Len(t, branches, 2)

	found, err := mgr.SearchBooks(ctx, library.BookFilter{ISBN: "978-0-13-468599-1"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	rows, err := mgr.Availability(ctx, found[0].ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Total)

	lost, err := mgr.SearchBooks(ctx, library.BookFilter{ISBN: "978-0-00-000000-0"})
	require.NoError(t, err)
	assert.Empty(t, lost, "title with an unknown branch is not catalogued")

	// A second run adds copies to the titles already present.
	out.Reset()
	require.NoError(t, importCatalog(ctx, &out, mgr, cat, zap.NewNop()))
	rows, err = mgr.Availability(ctx, found[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 4, rows[0].Total)
	assert.Equal(t, 4, rows[0].Available)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "a long...", truncateString("a long title", 9))
	assert.Equal(t, "ab", truncateString("abcdef", 2))
}
