package pathtree

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddAndFiles(t *testing.T) {
	n := New(false)
	require.True(t, n.Add("docs/a.txt"))
	require.True(t, n.Add("docs/b.txt"))
	require.True(t, n.Add("images/c.png"))

	files := n.Files("docs")
	sort.Strings(files)
	require.Equal(t, []string{"docs/a.txt", "docs/b.txt"}, files)
}

func TestAddDuplicateRejected(t *testing.T) {
	n := New(false)
	require.True(t, n.Add("docs/a.txt"))
	require.False(t, n.Add("docs/a.txt"))
}

func TestCaseInsensitiveCollision(t *testing.T) {
	n := New(true)
	require.True(t, n.Add("docs/Report.PDF"))
	require.True(t, n.Collides("docs/report.pdf"))
	require.False(t, n.Add("docs/report.pdf"))
}

func TestCaseSensitiveNoCollision(t *testing.T) {
	n := New(false)
	require.True(t, n.Add("docs/Report.PDF"))
	require.False(t, n.Collides("docs/report.pdf"))
	require.True(t, n.Add("docs/report.pdf"))
}

func TestTopLevelDirs(t *testing.T) {
	n := New(false)
	n.Add("docs/a.txt")
	n.Add("images/c.png")
	n.Add("root.txt")

	dirs := n.TopLevelDirs()
	sort.Strings(dirs)
	require.Equal(t, []string{"docs", "images"}, dirs)
}
