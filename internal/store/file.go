package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// AtomicFile replaces whole files by writing a sibling temp file and
// renaming it over the live path. Readers of the live path see either the
// old content or the new content, never a partial write.
type AtomicFile struct {
	// Rename moves the finished temp file into place. Nil means os.Rename.
	Rename func(oldpath, newpath string) error
}

// Replace streams new content for path through fill. If fill, the flush to
// disk or the rename fails, the temp file is removed and path is untouched.
func (a AtomicFile) Replace(path string, perm os.FileMode, fill func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := fill(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}

	rename := a.Rename
	if rename == nil {
		rename = os.Rename
	}
	if err := rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp into %s: %w", path, err)
	}
	success = true

	syncDir(dir)
	return nil
}

// syncDir makes a completed rename durable. Failure only weakens durability
// of the rename, so it is not reported.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
