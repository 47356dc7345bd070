package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrTorn marks an append that failed after bytes may have reached the file
// and could not be cut back off. The tail of the file is then unknown.
var ErrTorn = errors.New("store: partial append left in file")

// Appender extends line-oriented files in place. An empty file gets header
// first; a file whose last line has no terminator gets one before line is
// written, so a hand-edited file never has two rows merged together.
type Appender struct {
	// Sync flushes the file after writing. Nil means (*os.File).Sync.
	Sync func(f *os.File) error
}

// Append writes line, and header when the file is new or empty, to the end
// of path. On a write or sync failure the file is truncated back to the
// size it had; if that also fails the returned error wraps ErrTorn.
func (a Appender) Append(path string, perm os.FileMode, header, line string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, perm)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()

	var b strings.Builder
	switch {
	case size == 0:
		b.WriteString(header + "\n")
	case !EndsWithNewline(f, size):
		b.WriteByte('\n')
	}
	b.WriteString(line + "\n")

	sync := a.Sync
	if sync == nil {
		sync = (*os.File).Sync
	}
	if _, err := io.WriteString(f, b.String()); err != nil {
		return restore(f, size, fmt.Errorf("append %s: %w", path, err))
	}
	if err := sync(f); err != nil {
		return restore(f, size, fmt.Errorf("sync %s: %w", path, err))
	}
	return nil
}

func restore(f *os.File, size int64, cause error) error {
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("%w: %w (truncate: %v)", ErrTorn, cause, err)
	}
	return cause
}

// EndsWithNewline reports whether the byte at size-1 is '\n'. An unreadable
// or empty file counts as terminated.
func EndsWithNewline(f *os.File, size int64) bool {
	if size <= 0 {
		return true
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return true
	}
	return last[0] == '\n'
}
