package integrity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/archivist/pkg/catalog"
)

func openTestStore(t *testing.T) catalog.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	store, err := catalog.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestComputeFindsDivergence(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644))

	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, catalog.FileRecord{Path: "a.txt", Status: catalog.StatusNew})
	require.NoError(t, err)
	_, err = store.Insert(ctx, catalog.FileRecord{Path: "ghost.txt", Status: catalog.StatusNew})
	require.NoError(t, err)

	div, err := Compute(ctx, store, root)
	require.NoError(t, err)
	require.Equal(t, []string{"b.txt"}, div.MissingFromCatalog)
	require.Equal(t, []string{"ghost.txt"}, div.MissingFromDisk)
	require.False(t, div.Empty())
}

func TestApplyAddInsertsMissingFromCatalog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	div := Divergence{MissingFromCatalog: []string{"new.txt"}}
	require.NoError(t, Apply(ctx, store, ActionAdd, div))

	n, err := store.Count(ctx, catalog.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestApplyDeleteRemovesMissingFromDisk(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, catalog.FileRecord{Path: "ghost.txt", Status: catalog.StatusNew})
	require.NoError(t, err)

	div := Divergence{MissingFromDisk: []string{"ghost.txt"}}
	require.NoError(t, Apply(ctx, store, ActionDelete, div))

	n, err := store.Count(ctx, catalog.Filter{Reconvert: true})
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestApplyDeleteRemovesTerminalStatusRecord(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, catalog.FileRecord{Path: "done.txt", Status: catalog.StatusConverted})
	require.NoError(t, err)

	div := Divergence{MissingFromDisk: []string{"done.txt"}}
	require.NoError(t, Apply(ctx, store, ActionDelete, div))

	n, err := store.Total(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestApplyContinueAndAbortAreNoops(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, Apply(ctx, store, ActionContinue, Divergence{}))
	require.NoError(t, Apply(ctx, store, ActionAbort, Divergence{}))
}
