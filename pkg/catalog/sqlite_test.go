package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Insert(ctx, FileRecord{Path: "a.docx"})
	require.NoError(t, err)
	require.NotZero(t, id)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "a.docx", rec.Path)
	require.Equal(t, StatusNew, rec.Status)
	require.True(t, rec.IsOriginal())
}

func TestUpdatePartial(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Insert(ctx, FileRecord{Path: "b.pdf"})
	require.NoError(t, err)

	status := StatusConverted
	kept := KeptTrue
	require.NoError(t, s.Update(ctx, id, Fields{Status: &status, Kept: &kept}))

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusConverted, rec.Status)
	require.Equal(t, KeptTrue, rec.Kept)
}

func TestDeleteDescendants(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	parent, err := s.Insert(ctx, FileRecord{Path: "archive.zip"})
	require.NoError(t, err)
	child, err := s.Insert(ctx, FileRecord{Path: "archive/a.txt", SourceID: parent})
	require.NoError(t, err)
	grandchild, err := s.Insert(ctx, FileRecord{Path: "archive/a/inner.txt", SourceID: child})
	require.NoError(t, err)

	require.NoError(t, s.DeleteDescendants(ctx, parent))

	_, err = s.Get(ctx, child)
	require.Error(t, err)
	_, err = s.Get(ctx, grandchild)
	require.Error(t, err)

	// Parent itself survives; only descendants are purged.
	_, err = s.Get(ctx, parent)
	require.NoError(t, err)
}

func TestSelectFilterDefaultExcludesTerminal(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Insert(ctx, FileRecord{Path: "new.txt"})
	require.NoError(t, err)
	doneStatus := StatusConverted
	id2, err := s.Insert(ctx, FileRecord{Path: "done.txt"})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, id2, Fields{Status: &doneStatus}))

	n, err := s.Count(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.Count(ctx, Filter{Reconvert: true})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestRetryFilterOnlyFailures(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	failed := StatusFailed
	id, err := s.Insert(ctx, FileRecord{Path: "f.pdf"})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, id, Fields{Status: &failed}))

	converted := StatusConverted
	id2, err := s.Insert(ctx, FileRecord{Path: "g.pdf"})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, id2, Fields{Status: &converted}))

	it, err := s.Select(ctx, Filter{Retry: true})
	require.NoError(t, err)
	defer it.Close()

	var paths []string
	for it.Next() {
		paths = append(paths, it.Record().Path)
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"f.pdf"}, paths)
}

func TestSubfolders(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, p := range []string{"a/one.txt", "a/two.txt", "b/three.txt", "top.txt"} {
		_, err := s.Insert(ctx, FileRecord{Path: p})
		require.NoError(t, err)
	}

	folders, err := s.Subfolders(ctx, Filter{})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, folders)
}

func TestAppendRowsBulk(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rows := []FileRecord{{Path: "x1"}, {Path: "x2"}, {Path: "x3"}}
	require.NoError(t, s.AppendRows(ctx, rows))

	n, err := s.Count(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, 3, n)
}
