package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/archivist/pkg/catalog"
	"github.com/kraklabs/archivist/pkg/identify"
	"github.com/kraklabs/archivist/pkg/recipe"
	"github.com/kraklabs/archivist/pkg/runner"
)

func newTestWorker(t *testing.T, recipesYAML string) (*Worker, string, string) {
	t.Helper()
	reg, err := recipe.Load([]byte(recipesYAML))
	require.NoError(t, err)

	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	tmp := filepath.Join(root, "tmp")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.MkdirAll(dst, 0o755))
	require.NoError(t, os.MkdirAll(tmp, 0o755))

	r := runner.New()
	w := &Worker{
		Recipes:    reg,
		Identifier: identify.New(nil, "", 0),
		Runner:     r,
		SourceRoot: src,
		DestRoot:   dst,
		TempRoot:   tmp,
		Options:    Options{DefaultTimeout: 5 * time.Second},
	}
	return w, src, dst
}

func TestProcessSkipsUnknownMime(t *testing.T) {
	w, src, _ := newTestWorker(t, `{}`)
	require.NoError(t, os.WriteFile(filepath.Join(src, "note.txt"), []byte("hello"), 0o644))

	out := w.Process(context.Background(), catalog.FileRecord{Path: "note.txt"})
	require.Equal(t, catalog.StatusSkipped, out.Parent.Status)
}

func TestProcessAcceptsMatchingRecipe(t *testing.T) {
	yaml := `
text/plain:
  accept:
    always: true
`
	w, src, _ := newTestWorker(t, yaml)
	require.NoError(t, os.WriteFile(filepath.Join(src, "note.txt"), []byte("hello"), 0o644))

	out := w.Process(context.Background(), catalog.FileRecord{Path: "note.txt"})
	require.Equal(t, catalog.StatusAccepted, out.Parent.Status)
	require.Equal(t, catalog.KeptTrue, out.Parent.Kept)
}

func TestProcessNoCommandAndKeepFalseRemovesOriginal(t *testing.T) {
	yaml := `
text/plain:
  keep: false
`
	w, src, _ := newTestWorker(t, yaml)
	notePath := filepath.Join(src, "note.txt")
	require.NoError(t, os.WriteFile(notePath, []byte("hello"), 0o644))

	out := w.Process(context.Background(), catalog.FileRecord{Path: "note.txt"})
	require.Equal(t, catalog.StatusRemoved, out.Parent.Status)
	_, err := os.Stat(notePath)
	require.True(t, os.IsNotExist(err))
}

func TestProcessEncryptionShortCircuits(t *testing.T) {
	yaml := `application/encrypted: {}`
	w, src, _ := newTestWorker(t, yaml)
	require.NoError(t, os.WriteFile(filepath.Join(src, "secret.bin"), []byte("x"), 0o644))

	out := w.Process(context.Background(), catalog.FileRecord{Path: "secret.bin", Mime: "application/encrypted"})
	require.Equal(t, catalog.StatusProtected, out.Parent.Status)
	require.Equal(t, catalog.KeptTrue, out.Parent.Kept)
}

func TestProcessConvertsSuccessfully(t *testing.T) {
	yaml := `
text/csv:
  command: "cp <source> <dest>"
  dest_ext: tsv
  keep: false
`
	w, src, dst := newTestWorker(t, yaml)
	require.NoError(t, os.WriteFile(filepath.Join(src, "data.csv"), []byte("a,b\n"), 0o644))

	out := w.Process(context.Background(), catalog.FileRecord{Path: "data.csv", Mime: "text/csv"})
	require.Equal(t, catalog.StatusConverted, out.Parent.Status)
	_, err := os.Stat(filepath.Join(dst, "data.tsv"))
	require.NoError(t, err)
}

func TestProcessFailedConversionKeepsOriginal(t *testing.T) {
	yaml := `
text/csv:
  command: "exit 1"
  dest_ext: tsv
  keep: false
`
	w, src, dst := newTestWorker(t, yaml)
	require.NoError(t, os.WriteFile(filepath.Join(src, "data.csv"), []byte("a,b\n"), 0o644))

	out := w.Process(context.Background(), catalog.FileRecord{Path: "data.csv", Mime: "text/csv"})
	require.Equal(t, catalog.StatusFailed, out.Parent.Status)
	require.Equal(t, catalog.KeptTrue, out.Parent.Kept)
	_, err := os.Stat(filepath.Join(dst, "data.csv"))
	require.NoError(t, err)
}

func TestProcessTimeoutClassification(t *testing.T) {
	yaml := `
text/csv:
  command: "sleep 5 & wait"
  dest_ext: tsv
  timeout: 100ms
`
	w, src, _ := newTestWorker(t, yaml)
	require.NoError(t, os.WriteFile(filepath.Join(src, "data.csv"), []byte("a,b\n"), 0o644))

	out := w.Process(context.Background(), catalog.FileRecord{Path: "data.csv", Mime: "text/csv"})
	require.Equal(t, catalog.StatusTimeout, out.Parent.Status)
}

func TestComposeDestNameOrigExt(t *testing.T) {
	require.Equal(t, "report.pdf", composeDestName("report", "docx", "pdf", false))
	require.Equal(t, "report.docx.pdf", composeDestName("report", "docx", "pdf", true))
	require.Equal(t, "report", composeDestName("report", "docx", "", true))
}

func TestFoldsExtension(t *testing.T) {
	require.True(t, foldsExtension("xyz", "pdf", "application/pdf"))
	require.False(t, foldsExtension("pdf", "pdf", "application/pdf"))
	require.False(t, foldsExtension("xyz", "pdf", "application/octet-stream"))
}
