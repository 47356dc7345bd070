// Package roster holds the enrolled identities loaded from the roster file.
package roster

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"fingerattend/internal/csvrow"
	"fingerattend/internal/store"
)

var (
	// ErrNotFound is returned when removing an id that is not enrolled.
	ErrNotFound = errors.New("roster: identity not found")
	// ErrInvalid is returned for enrollment input that cannot be stored.
	ErrInvalid = errors.New("roster: invalid identity")
)

// Header is written to new roster files and skipped when present.
var Header = []string{"ID", "Roll Number", "Name"}

// Identity is one enrolled person.
type Identity struct {
	ID         int    `json:"id"`
	RollNumber string `json:"roll_number"`
	Name       string `json:"name"`
}

func (i Identity) fields() []string {
	return []string{strconv.Itoa(i.ID), i.RollNumber, i.Name}
}

// Directory is the in-memory id -> identity table backed by the roster
// file. It is safe for concurrent use.
//
// New ids are max(existing)+1. After a removal and a reload the max is
// re-derived from the remaining ids, so a removed id can be issued again.
type Directory struct {
	path   string
	logger *log.Logger
	files  store.AtomicFile
	lines  store.Appender

	mu     sync.RWMutex
	byID   map[int]Identity
	nextID int
}

// Load reads the roster at path. A missing file gives an empty directory;
// the file is created on first enrollment.
func Load(path string, logger *log.Logger) (*Directory, error) {
	if logger == nil {
		logger = log.Default()
	}
	d := &Directory{path: path, logger: logger}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload replaces the in-memory table with the roster file's content.
func (d *Directory) Reload() error {
	byID, err := d.read()
	if err != nil {
		return err
	}
	maxID := 0
	for id := range byID {
		maxID = max(maxID, id)
	}

	d.mu.Lock()
	d.byID = byID
	d.nextID = maxID + 1
	d.mu.Unlock()

	d.logger.Printf("roster: loaded %d identities from %s, next id %d", len(byID), d.path, maxID+1)
	return nil
}

func (d *Directory) read() (map[int]Identity, error) {
	byID := make(map[int]Identity)
	f, err := os.Open(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return byID, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open roster %s: %w", d.path, err)
	}
	defer f.Close()

	r := csvrow.NewReader(f)
	for n := 1; ; n++ {
		row, err := r.Next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, csvrow.ErrMalformed) {
			d.logger.Printf("roster %s: skipping malformed row %d", d.path, n)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read roster %s: %w", d.path, err)
		}
		if n == 1 && isHeader(row.Fields) {
			continue
		}
		ident, err := identityFromFields(row.Fields)
		if err != nil {
			d.logger.Printf("roster %s: skipping row %d: %v", d.path, n, err)
			continue
		}
		if _, dup := byID[ident.ID]; dup {
			d.logger.Printf("roster %s: duplicate id %d on row %d, keeping the first", d.path, ident.ID, n)
			continue
		}
		byID[ident.ID] = ident
	}
	return byID, nil
}

func identityFromFields(f []string) (Identity, error) {
	if len(f) != len(Header) {
		return Identity{}, fmt.Errorf("want %d fields, got %d", len(Header), len(f))
	}
	id, err := strconv.Atoi(strings.TrimSpace(f[0]))
	if err != nil || id < 1 {
		return Identity{}, fmt.Errorf("bad id %q", f[0])
	}
	return Identity{ID: id, RollNumber: f[1], Name: f[2]}, nil
}

func isHeader(f []string) bool {
	if len(f) != len(Header) {
		return false
	}
	for i := range f {
		if !strings.EqualFold(strings.TrimSpace(f[i]), Header[i]) {
			return false
		}
	}
	return true
}

// Resolve looks up an identity. A miss is an ordinary outcome: the sensor
// may hold templates that were never enrolled here.
func (d *Directory) Resolve(id int) (Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ident, ok := d.byID[id]
	return ident, ok
}

// List returns all identities ordered by id.
func (d *Directory) List() []Identity {
	d.mu.RLock()
	out := make([]Identity, 0, len(d.byID))
	for _, ident := range d.byID {
		out = append(out, ident)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of enrolled identities.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

// NextID is the id the next enrollment will receive.
func (d *Directory) NextID() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nextID
}

// Enroll assigns the next id to a new identity and appends it to the
// roster file.
func (d *Directory) Enroll(rollNumber, name string) (Identity, error) {
	rollNumber, name = strings.TrimSpace(rollNumber), strings.TrimSpace(name)
	if rollNumber == "" || name == "" {
		return Identity{}, fmt.Errorf("%w: roll number and name are required", ErrInvalid)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ident := Identity{ID: d.nextID, RollNumber: rollNumber, Name: name}
	if err := d.appendRow(ident); err != nil {
		if errors.Is(err, store.ErrTorn) {
			// The row may be on disk; never hand its id out again.
			d.nextID++
		}
		return Identity{}, err
	}
	d.byID[ident.ID] = ident
	d.nextID++
	return ident, nil
}

func (d *Directory) appendRow(ident Identity) error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("create roster directory: %w", err)
	}
	if err := d.lines.Append(d.path, 0o644, csvrow.Encode(Header), csvrow.Encode(ident.fields())); err != nil {
		return fmt.Errorf("roster: %w", err)
	}
	return nil
}

// Remove drops an identity and rewrites the roster file atomically. The
// next id is not lowered, so ids are not recycled within a session.
func (d *Directory) Remove(id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byID[id]; !ok {
		return ErrNotFound
	}

	remaining := make([]Identity, 0, len(d.byID)-1)
	for _, ident := range d.byID {
		if ident.ID != id {
			remaining = append(remaining, ident)
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].ID < remaining[j].ID })

	err := d.files.Replace(d.path, 0o644, func(w io.Writer) error {
		if err := csvrow.Write(w, Header); err != nil {
			return err
		}
		for _, ident := range remaining {
			if err := csvrow.Write(w, ident.fields()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rewrite roster: %w", err)
	}
	delete(d.byID, id)
	return nil
}
