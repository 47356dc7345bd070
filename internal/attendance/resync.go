package attendance

import (
	"context"
	"fmt"
	"log"

	"fingerattend/internal/ledger"
	"fingerattend/internal/mirror"
	"fingerattend/internal/roster"
)

// History is the read side of the ledger used by Resync.
type History interface {
	Days() ([]ledger.Day, error)
	LoadAll(day ledger.Day) ([]ledger.Record, error)
}

// Directory lists enrolled identities.
type Directory interface {
	List() []roster.Identity
}

// ResyncReport summarizes a bulk push.
type ResyncReport struct {
	Identities int `json:"identities"`
	Days       int `json:"days"`
	Records    int `json:"records"`
	Failed     int `json:"failed"`
}

// Resync pushes every identity and every ledger row to m so the remote
// copy converges on local state. It never writes the ledger. Individual
// push failures are counted and logged; an error is returned only when
// the ledger cannot be read or ctx ends.
func Resync(ctx context.Context, hist History, dir Directory, m mirror.Mirror, logger *log.Logger) (ResyncReport, error) {
	if logger == nil {
		logger = log.Default()
	}
	var rep ResyncReport

	push := func(path string, fields map[string]string) {
		if err := m.Push(ctx, path, fields); err != nil {
			rep.Failed++
			logger.Printf("resync: push %s failed: %v", path, err)
		}
	}

	for _, ident := range dir.List() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		push(mirror.StudentPath(ident.ID), mirror.StudentFields(ident))
		rep.Identities++
	}

	days, err := hist.Days()
	if err != nil {
		return rep, fmt.Errorf("resync: %w", err)
	}
	for _, day := range days {
		recs, err := hist.LoadAll(day)
		if err != nil {
			return rep, fmt.Errorf("resync %s: %w", day, err)
		}
		for _, rec := range recs {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			push(mirror.AttendancePath(day, rec.IdentityID), mirror.AttendanceFields(rec))
			rep.Records++
		}
		rep.Days++
	}

	logger.Printf("resync: pushed %d identities and %d records over %d days, %d failed",
		rep.Identities, rep.Records, rep.Days, rep.Failed)
	return rep, nil
}
