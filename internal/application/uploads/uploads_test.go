package uploads

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/sans-pilot/internal/domain/uploads"
	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

func writeFile(t *testing.T, root, rel string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("q,I\n0.1,1\n"), 0o644))
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	return path
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root)
	direct := writeFile(t, root, "alice/data.csv", time.Time{})
	nested := writeFile(t, root, "alice/2024/run1/deep.csv", time.Time{})
	writeFile(t, root, "alice/a/sample.csv", time.Time{})
	writeFile(t, root, "alice/b/sample.csv", time.Time{})

	got, err := r.Resolve("data.csv", "alice")
	require.NoError(t, err)
	assert.Equal(t, direct, got)

	got, err = r.Resolve("deep.csv", "alice")
	require.NoError(t, err)
	assert.Equal(t, nested, got)

	got, err = r.Resolve("other/dir/deep.csv", "alice")
	require.NoError(t, err, "falls back to the base name")
	assert.Equal(t, nested, got)

	got, err = r.Resolve("a/sample.csv", "alice")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, filepath.Join("a", "sample.csv")))

	_, err = r.Resolve("sample.csv", "alice")
	assert.ErrorIs(t, err, sentinel.ErrAmbiguous)
	assert.Contains(t, err.Error(), "found 2 matches")

	_, err = r.Resolve("data.csv", "bob")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	abs := filepath.Join(t.TempDir(), "elsewhere.csv")
	got, err = r.Resolve(abs, "alice")
	require.NoError(t, err)
	assert.Equal(t, abs, got)
}

func TestResolveSharedRoot(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "shared.csv", time.Time{})
	got, err := NewResolver(root).Resolve("shared.csv", "")
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestListNewestFirstWithFilter(t *testing.T) {
	root := t.TempDir()
	svc := NewService(NewResolver(root))
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	writeFile(t, root, "u1/old.csv", base)
	writeFile(t, root, "u1/nested/new.CSV", base.Add(time.Hour))
	writeFile(t, root, "u1/abc123__named.csv", base.Add(30*time.Minute))
	writeFile(t, root, "u1/readme.txt", base.Add(2*time.Hour))

	files, err := svc.List("u1", []string{".csv"}, 0)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "nested/new.CSV", files[0].RelativePath)
	assert.Equal(t, "named.csv", files[1].OriginalName)
	assert.Equal(t, "abc123__named.csv", files[1].Name)
	assert.Equal(t, "old.csv", files[2].RelativePath)
	assert.Equal(t, base, files[2].CreatedTime)

	files, err = svc.List("u1", nil, 2)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "readme.txt", files[0].Name)

	files, err = svc.List("nobody", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestStore(t *testing.T) {
	root := t.TempDir()
	svc := NewService(NewResolver(root))

	f, err := svc.Store("carol", "../../sneaky/data.csv", strings.NewReader("q,I\n"))
	require.NoError(t, err)
	assert.Equal(t, "data.csv", f.OriginalName)
	assert.Equal(t, "data.csv", domain.OriginalName(f.Name))
	assert.EqualValues(t, 4, f.Bytes)
	assert.FileExists(t, filepath.Join(root, "carol", f.Name))

	second, err := svc.Store("carol", "data.csv", strings.NewReader("x"))
	require.NoError(t, err)
	assert.NotEqual(t, f.Name, second.Name)

	_, err = svc.Store("carol", "  ", strings.NewReader("x"))
	assert.ErrorIs(t, err, sentinel.ErrInvalidRequest)
}
