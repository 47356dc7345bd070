package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// Pending marks a check-out that has not happened yet.
const Pending = "-"

// Header is the first row of every ledger file.
var Header = []string{"Roll Number", "Name", "Fingerprint ID", "In Time", "Out Time"}

const numFields = 5

// State is where a record stands for its day.
type State int

const (
	Absent State = iota
	CheckedIn
	CheckedOut
)

// Record is one identity's attendance row for a day.
type Record struct {
	IdentityID int
	RollNumber string
	Name       string
	CheckIn    string
	CheckOut   string
}

// State derives the record's position in the daily state machine.
func (r Record) State() State {
	if r.CheckOut == Pending || r.CheckOut == "" {
		return CheckedIn
	}
	return CheckedOut
}

func (r Record) fields() []string {
	return []string{r.RollNumber, r.Name, strconv.Itoa(r.IdentityID), r.CheckIn, r.CheckOut}
}

func recordFromFields(f []string) (Record, error) {
	if len(f) != numFields {
		return Record{}, fmt.Errorf("want %d fields, got %d", numFields, len(f))
	}
	id, err := strconv.Atoi(strings.TrimSpace(f[2]))
	if err != nil || id < 1 {
		return Record{}, fmt.Errorf("bad identity id %q", f[2])
	}
	return Record{
		RollNumber: f[0],
		Name:       f[1],
		IdentityID: id,
		CheckIn:    f[3],
		CheckOut:   f[4],
	}, nil
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
