// Package mirror pushes ledger rows and identities to a remote document
// store. The copy is best effort: callers log failures and move on, and a
// later resync repairs drift.
package mirror

import (
	"context"
	"strconv"

	"fingerattend/internal/ledger"
	"fingerattend/internal/roster"
)

// Mirror writes one document, replacing whatever was stored at path.
type Mirror interface {
	Push(ctx context.Context, path string, fields map[string]string) error
}

// AttendancePath is /attendance/<MM>/<DD-MM-YYYY>/<identityId>.
func AttendancePath(day ledger.Day, identityID int) string {
	return "/attendance/" + day.MonthKey() + "/" + day.String() + "/" + strconv.Itoa(identityID)
}

// AttendanceFields is the document stored for a ledger row.
func AttendanceFields(rec ledger.Record) map[string]string {
	return map[string]string{
		"name":       rec.Name,
		"rollNumber": rec.RollNumber,
		"inTime":     rec.CheckIn,
		"outTime":    rec.CheckOut,
	}
}

// StudentPath is /students/<id>.
func StudentPath(id int) string {
	return "/students/" + strconv.Itoa(id)
}

// StudentFields is the document stored for an enrolled identity.
func StudentFields(ident roster.Identity) map[string]string {
	return map[string]string{
		"name":       ident.Name,
		"rollNumber": ident.RollNumber,
	}
}

// Noop discards every push. It is used when no remote store is configured.
type Noop struct{}

// Push does nothing.
func (Noop) Push(context.Context, string, map[string]string) error { return nil }
