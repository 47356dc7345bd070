// Package ledger keeps one attendance file per calendar day under
// <root>/<MM>/<DD-MM-YYYY>.<ext>. The files are the source of truth for
// attendance facts; updates go through an atomic temp-file rename and never
// write into a live file in place.
package ledger

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fingerattend/internal/csvrow"
	"fingerattend/internal/store"
)

// ErrNotFound is returned when a day has no row for the requested identity.
var ErrNotFound = errors.New("ledger: record not found")

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Store reads and writes daily ledger files.
type Store struct {
	root   string
	ext    string
	logger *log.Logger
	files  store.AtomicFile
	lines  store.Appender
}

// NewStore returns a store rooted at root. ext is the file extension
// without the dot; empty means "csv".
func NewStore(root, ext string, logger *log.Logger) *Store {
	if ext == "" {
		ext = "csv"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Store{root: root, ext: strings.TrimPrefix(ext, "."), logger: logger}
}

// Root returns the directory holding the month shards.
func (s *Store) Root() string { return s.root }

// PathFor returns the ledger file location for day.
func (s *Store) PathFor(day Day) string {
	return filepath.Join(s.root, day.MonthKey(), day.String()+"."+s.ext)
}

// EnsureDir creates the month directory for day if needed.
func (s *Store) EnsureDir(day Day) error {
	dir := filepath.Dir(s.PathFor(day))
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create ledger directory %s: %w", dir, err)
	}
	return nil
}

// Records iterates the day's rows lazily. Each call reopens the file, so
// the sequence can be ranged over more than once. A missing file yields
// nothing. Malformed rows are logged and skipped; an I/O error is yielded
// once and ends the sequence.
func (s *Store) Records(day Day) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		path := s.PathFor(day)
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		if err != nil {
			yield(Record{}, fmt.Errorf("open ledger %s: %w", path, err))
			return
		}
		defer f.Close()

		r := csvrow.NewReader(f)
		for n := 1; ; n++ {
			row, err := r.Next()
			if err == io.EOF {
				return
			}
			if errors.Is(err, csvrow.ErrMalformed) {
				s.logger.Printf("ledger %s: skipping malformed row %d", path, n)
				continue
			}
			if err != nil {
				yield(Record{}, fmt.Errorf("read ledger %s: %w", path, err))
				return
			}
			if isHeader(row.Fields) {
				continue
			}
			rec, err := recordFromFields(row.Fields)
			if err != nil {
				s.logger.Printf("ledger %s: skipping row %d: %v", path, n, err)
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// LoadAll collects every well-formed row for day.
func (s *Store) LoadAll(day Day) ([]Record, error) {
	var out []Record
	for rec, err := range s.Records(day) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Find returns the identity's row for day, scanning the file linearly.
func (s *Store) Find(day Day, identityID int) (Record, bool, error) {
	for rec, err := range s.Records(day) {
		if err != nil {
			return Record{}, false, err
		}
		if rec.IdentityID == identityID {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

// Count returns the number of well-formed rows for day.
func (s *Store) Count(day Day) (int, error) {
	n := 0
	for _, err := range s.Records(day) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// AppendCheckIn adds rec as a new row, creating the day's file with its
// header first if it does not exist yet.
func (s *Store) AppendCheckIn(day Day, rec Record) error {
	if err := s.EnsureDir(day); err != nil {
		return err
	}
	path := s.PathFor(day)
	if err := s.lines.Append(path, filePerm, csvrow.Encode(Header), csvrow.Encode(rec.fields())); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

// RewriteWithCheckOut sets the identity's check-out time by streaming the
// whole file into a temp file and renaming it over the original. Rows that
// do not parse are carried over verbatim. On any failure the live file is
// left as it was.
func (s *Store) RewriteWithCheckOut(day Day, identityID int, checkOut string) (Record, error) {
	path := s.PathFor(day)
	src, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer src.Close()

	var (
		updated Record
		found   bool
	)
	err = s.files.Replace(path, filePerm, func(w io.Writer) error {
		r := csvrow.NewReader(src)
		for {
			row, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil && !errors.Is(err, csvrow.ErrMalformed) {
				return err
			}
			line := row.Raw
			if err == nil && !found && !isHeader(row.Fields) {
				if rec, perr := recordFromFields(row.Fields); perr == nil && rec.IdentityID == identityID {
					rec.CheckOut = checkOut
					updated, found = rec, true
					line = csvrow.Encode(rec.fields())
				}
			}
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return err
			}
		}
		if !found {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return updated, nil
}

// Delete removes the day's ledger file. Deleting a missing day is not an
// error.
func (s *Store) Delete(day Day) error {
	path := s.PathFor(day)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete ledger %s: %w", path, err)
	}
	return nil
}

// Days lists every day that has a ledger file, oldest first.
func (s *Store) Days() ([]Day, error) {
	months, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list ledger root %s: %w", s.root, err)
	}

	suffix := "." + s.ext
	var days []Day
	for _, m := range months {
		if !m.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.root, m.Name()))
		if err != nil {
			return nil, fmt.Errorf("list ledger month %s: %w", m.Name(), err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, suffix) {
				continue
			}
			day, err := ParseDay(strings.TrimSuffix(name, suffix))
			if err != nil || day.MonthKey() != m.Name() {
				continue
			}
			days = append(days, day)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}
