package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/archivist/pkg/catalog"
)

type recordingStore struct {
	catalog.Store
	rows []catalog.FileRecord
}

func (s *recordingStore) AppendRows(_ context.Context, rows []catalog.FileRecord) error {
	s.rows = append(s.rows, rows...)
	return nil
}

func TestWalkSkipsDotfilesAndDotdirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "objects"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "objects", "x"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("x"), 0o644))

	store := &recordingStore{}
	count, err := Walk(context.Background(), store, root)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	var paths []string
	for _, r := range store.rows {
		paths = append(paths, r.Path)
		require.Equal(t, catalog.StatusNew, r.Status)
	}
	sort.Strings(paths)
	require.Equal(t, []string{"a.txt", "sub/b.txt"}, paths)
}

func TestApplyFormatIDCorrection(t *testing.T) {
	require.Equal(t, "text/plain", ApplyFormatIDCorrection("x-fmt/18", "application/octet-stream"))
	require.Equal(t, "application/xml", ApplyFormatIDCorrection("fmt/979", "text/xml"))
	require.Equal(t, "application/pdf", ApplyFormatIDCorrection("fmt/18", "application/pdf"))
}
