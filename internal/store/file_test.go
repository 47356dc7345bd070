package store

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicFile_ReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "day.csv")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	err := AtomicFile{}.Replace(path, 0o644, func(w io.Writer) error {
		_, err := io.WriteString(w, "new\n")
		return err
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(data))
	assertNoTempFiles(t, filepath.Dir(path))
}

func TestAtomicFile_RenameFailureKeepsOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "day.csv")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	var sawTemp bool
	a := AtomicFile{Rename: func(oldpath, newpath string) error {
		_, err := os.Stat(oldpath)
		sawTemp = err == nil
		return errors.New("power lost")
	}}
	err := a.Replace(path, 0o644, func(w io.Writer) error {
		_, err := io.WriteString(w, "half written")
		return err
	})
	require.Error(t, err)
	assert.True(t, sawTemp, "temp file should exist when rename is attempted")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(data))
	assertNoTempFiles(t, filepath.Dir(path))
}

func TestAtomicFile_FillFailureKeepsOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "day.csv")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	err := AtomicFile{}.Replace(path, 0o644, func(w io.Writer) error {
		io.WriteString(w, "partial")
		return errors.New("read failed")
	})
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(data))
	assertNoTempFiles(t, filepath.Dir(path))
}

func TestAtomicFile_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "day.csv")
	err := AtomicFile{}.Replace(path, 0o644, func(w io.Writer) error { return nil })
	assert.Error(t, err)
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
