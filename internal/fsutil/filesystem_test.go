package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// both runs a test against the OS filesystem rooted in a temp dir and
// against a MemoryFileSystem.
func both(t *testing.T, fn func(t *testing.T, fsys FileSystem, root string)) {
	t.Run("os", func(t *testing.T) { fn(t, OSFileSystem{}, t.TempDir()) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryFileSystem(), "mem") })
}

func TestFileSystem_WriteReadStat(t *testing.T) {
	both(t, func(t *testing.T, fsys FileSystem, root string) {
		dir := filepath.Join(root, "session")
		require.NoError(t, fsys.MkdirAll(dir, 0o755))
		name := filepath.Join(dir, "capture_0001.png")
		require.NoError(t, fsys.WriteFile(name, []byte("pixels"), 0o644))

		data, err := fsys.ReadFile(name)
		require.NoError(t, err)
		assert.Equal(t, "pixels", string(data))

		info, err := fsys.Stat(name)
		require.NoError(t, err)
		assert.Equal(t, int64(6), info.Size())
		assert.False(t, info.IsDir())

		info, err = fsys.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())

		assert.True(t, fsys.Exists(name))
		assert.False(t, fsys.Exists(filepath.Join(dir, "missing")))
	})
}

func TestFileSystem_CreateAndOpen(t *testing.T) {
	both(t, func(t *testing.T, fsys FileSystem, root string) {
		name := filepath.Join(root, "frame.jpg")
		w, err := fsys.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, "first ")
		require.NoError(t, err)
		_, err = io.WriteString(w, "second")
		require.NoError(t, err)
		require.NoError(t, w.Close())

		f, err := fsys.Open(name)
		require.NoError(t, err)
		defer f.Close()
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "first second", string(data))

		info, err := f.Stat()
		require.NoError(t, err)
		assert.Equal(t, "frame.jpg", info.Name())
	})
}

func TestFileSystem_NotExist(t *testing.T) {
	both(t, func(t *testing.T, fsys FileSystem, root string) {
		name := filepath.Join(root, "nope")
		_, err := fsys.Open(name)
		assert.True(t, errors.Is(err, fs.ErrNotExist), "open: %v", err)
		_, err = fsys.ReadFile(name)
		assert.True(t, errors.Is(err, fs.ErrNotExist), "read: %v", err)
		_, err = fsys.Stat(name)
		assert.True(t, errors.Is(err, fs.ErrNotExist), "stat: %v", err)
		assert.Error(t, fsys.Remove(name))
		assert.Error(t, fsys.Rename(name, name+"2"))
	})
}

func TestFileSystem_RenameAndRemove(t *testing.T) {
	both(t, func(t *testing.T, fsys FileSystem, root string) {
		a := filepath.Join(root, "a.json")
		b := filepath.Join(root, "b.json")
		require.NoError(t, fsys.WriteFile(a, []byte("1"), 0o644))
		require.NoError(t, fsys.WriteFile(b, []byte("2"), 0o644))

		require.NoError(t, fsys.Rename(a, b))
		assert.False(t, fsys.Exists(a))
		data, err := fsys.ReadFile(b)
		require.NoError(t, err)
		assert.Equal(t, "1", string(data))

		require.NoError(t, fsys.Remove(b))
		assert.False(t, fsys.Exists(b))
	})
}

func TestFileSystem_RemoveAll(t *testing.T) {
	both(t, func(t *testing.T, fsys FileSystem, root string) {
		dir := filepath.Join(root, "images")
		require.NoError(t, fsys.MkdirAll(filepath.Join(dir, "nested"), 0o755))
		require.NoError(t, fsys.WriteFile(filepath.Join(dir, "x.png"), nil, 0o644))
		require.NoError(t, fsys.WriteFile(filepath.Join(dir, "nested", "y.png"), nil, 0o644))
		keep := filepath.Join(root, "images2.png")
		require.NoError(t, fsys.WriteFile(keep, nil, 0o644))

		require.NoError(t, fsys.RemoveAll(dir))
		assert.False(t, fsys.Exists(dir))
		assert.False(t, fsys.Exists(filepath.Join(dir, "nested", "y.png")))
		assert.True(t, fsys.Exists(keep))
		// removing something absent is not an error
		require.NoError(t, fsys.RemoveAll(dir))
	})
}

func TestFileSystem_Glob(t *testing.T) {
	both(t, func(t *testing.T, fsys FileSystem, root string) {
		for _, n := range []string{"b.png", "a.png", "c.jpg"} {
			require.NoError(t, fsys.WriteFile(filepath.Join(root, n), nil, 0o644))
		}
		got, err := fsys.Glob(filepath.Join(root, "*.png"))
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(root, "a.png"), filepath.Join(root, "b.png")}, got)

		_, err = fsys.Glob("[")
		assert.Error(t, err)
	})
}

func TestMemoryFileSystem_ImplicitParents(t *testing.T) {
	m := NewMemoryFileSystem()
	require.NoError(t, m.WriteFile("a/b/c.txt", []byte("x"), 0o644))
	assert.True(t, m.Exists("a"))
	assert.True(t, m.Exists("a/b"))

	// a directory with files cannot be removed on its own
	assert.Error(t, m.Remove("a/b"))
	require.NoError(t, m.Remove("a/b/c.txt"))
	require.NoError(t, m.Remove("a/b"))
}

func TestMemoryFileSystem_DataIsolation(t *testing.T) {
	m := NewMemoryFileSystem()
	src := []byte("original")
	require.NoError(t, m.WriteFile("f", src, 0o644))
	src[0] = 'X'

	got, err := m.ReadFile("f")
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))

	got[0] = 'Y'
	again, err := m.ReadFile("f")
	require.NoError(t, err)
	assert.Equal(t, "original", string(again))
}

func TestMemoryFileSystem_PathCleaning(t *testing.T) {
	m := NewMemoryFileSystem()
	require.NoError(t, m.WriteFile("./dir/../file.txt", []byte("x"), 0o644))
	assert.True(t, m.Exists("file.txt"))
}

func TestJSONArtifacts(t *testing.T) {
	both(t, func(t *testing.T, fsys FileSystem, root string) {
		type result struct {
			ID       string  `json:"id"`
			Residual float64 `json:"residual"`
		}
		name := filepath.Join(root, "artifacts", "extrinsic.json")
		require.NoError(t, WriteJSON(fsys, name, result{ID: "run-1", Residual: 0.25}))
		assert.False(t, fsys.Exists(name+".tmp"))

		var got result
		require.NoError(t, ReadJSON(fsys, name, &got))
		assert.Equal(t, result{ID: "run-1", Residual: 0.25}, got)

		require.NoError(t, fsys.WriteFile(name, []byte("{"), 0o644))
		err := ReadJSON(fsys, name, &got)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode")

		assert.Error(t, WriteJSON(fsys, name, func() {}))
	})
}
