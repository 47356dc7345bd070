// Package attendance turns recognized scans into daily check-in and
// check-out rows.
//
// For each (day, identity) the ledger holds at most one row. The first
// scan of the day appends it with a pending check-out, the second fills the
// check-out in, and any later scan is rejected as a duplicate. The ledger
// is re-read on every scan; nothing about earlier scans is cached.
package attendance

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"fingerattend/internal/ledger"
	"fingerattend/internal/metrics"
	"fingerattend/internal/mirror"
	"fingerattend/internal/roster"
)

// TimeLayout formats check-in and check-out times.
const TimeLayout = "15:04:05"

// Outcome is what a scan amounted to. The UI, display and LED layers key
// their feedback off it.
type Outcome string

const (
	CheckedIn         Outcome = "CheckedIn"
	CheckedOut        Outcome = "CheckedOut"
	DuplicateRejected Outcome = "DuplicateRejected"
	UnknownIdentity   Outcome = "UnknownIdentity"
	StorageError      Outcome = "StorageError"
)

// ScanEvent is one successful sensor match.
type ScanEvent struct {
	ID         string
	IdentityID int
	Timestamp  time.Time
	Day        ledger.Day
}

// NewScanEvent stamps a match at ts, taking the calendar day in loc.
func NewScanEvent(identityID int, ts time.Time, loc *time.Location) ScanEvent {
	if loc != nil {
		ts = ts.In(loc)
	}
	return ScanEvent{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		Timestamp:  ts,
		Day:        ledger.DayOf(ts),
	}
}

// Result reports a processed scan. Record is the row as persisted for
// CheckedIn, CheckedOut and DuplicateRejected. Err is set only for
// StorageError.
type Result struct {
	Event    ScanEvent
	Outcome  Outcome
	Identity roster.Identity
	Record   ledger.Record
	Err      error
}

// Resolver looks identities up by sensor id.
type Resolver interface {
	Resolve(id int) (roster.Identity, bool)
}

// Ledger is the per-day attendance storage.
type Ledger interface {
	Find(day ledger.Day, identityID int) (ledger.Record, bool, error)
	AppendCheckIn(day ledger.Day, rec ledger.Record) error
	RewriteWithCheckOut(day ledger.Day, identityID int, checkOut string) (ledger.Record, error)
}

// Engine applies scans to the ledger one at a time.
type Engine struct {
	dir           Resolver
	ledger        Ledger
	mirror        mirror.Mirror
	metrics       *metrics.Metrics
	logger        *log.Logger
	mirrorTimeout time.Duration

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is log.Default().
func WithLogger(l *log.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics records outcomes and pushes on m.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithMirrorTimeout bounds each mirror push. Zero means no extra bound.
func WithMirrorTimeout(d time.Duration) Option { return func(e *Engine) { e.mirrorTimeout = d } }

// NewEngine wires an engine. A nil mirror disables mirroring.
func NewEngine(dir Resolver, led Ledger, m mirror.Mirror, opts ...Option) *Engine {
	if m == nil {
		m = mirror.Noop{}
	}
	e := &Engine{dir: dir, ledger: led, mirror: m, logger: log.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	return e
}

// Reconcile processes one scan to completion: resolve, read the day's
// ledger, apply the transition, persist, then attempt the mirror push.
// Scans are serialized, so a second caller waits for the first.
func (e *Engine) Reconcile(ctx context.Context, evt ScanEvent) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	if evt.Day.IsZero() {
		evt.Day = ledger.DayOf(evt.Timestamp)
	}
	res := e.apply(ctx, evt)
	e.metrics.ObserveScan(string(res.Outcome), time.Since(start).Seconds())
	return res
}

func (e *Engine) apply(ctx context.Context, evt ScanEvent) Result {
	res := Result{Event: evt}

	ident, ok := e.dir.Resolve(evt.IdentityID)
	if !ok {
		res.Outcome = UnknownIdentity
		return res
	}
	res.Identity = ident

	existing, found, err := e.ledger.Find(evt.Day, evt.IdentityID)
	if err != nil {
		return e.storageError(res, "read", err)
	}

	now := evt.Timestamp.Format(TimeLayout)
	switch {
	case !found:
		rec := ledger.Record{
			IdentityID: ident.ID,
			RollNumber: ident.RollNumber,
			Name:       ident.Name,
			CheckIn:    now,
			CheckOut:   ledger.Pending,
		}
		if err := e.ledger.AppendCheckIn(evt.Day, rec); err != nil {
			return e.storageError(res, "append", err)
		}
		res.Outcome, res.Record = CheckedIn, rec

	case existing.State() == ledger.CheckedIn:
		rec, err := e.ledger.RewriteWithCheckOut(evt.Day, evt.IdentityID, now)
		if errors.Is(err, ledger.ErrNotFound) {
			// The row vanished between the read and the rewrite.
			err = errors.New("record disappeared during rewrite")
		}
		if err != nil {
			return e.storageError(res, "rewrite", err)
		}
		res.Outcome, res.Record = CheckedOut, rec

	default:
		res.Outcome, res.Record = DuplicateRejected, existing
		return res
	}

	e.push(ctx, evt, res.Record)
	return res
}

func (e *Engine) storageError(res Result, op string, err error) Result {
	e.logger.Printf("scan %s: ledger %s failed for id %d on %s: %v",
		res.Event.ID, op, res.Event.IdentityID, res.Event.Day, err)
	res.Outcome, res.Err = StorageError, err
	return res
}

// push mirrors rec. The local outcome is already decided; failures are
// logged and not retried here.
func (e *Engine) push(ctx context.Context, evt ScanEvent, rec ledger.Record) {
	if e.mirrorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.mirrorTimeout)
		defer cancel()
	}
	path := mirror.AttendancePath(evt.Day, rec.IdentityID)
	err := e.mirror.Push(ctx, path, mirror.AttendanceFields(rec))
	e.metrics.ObservePush(err == nil)
	if err != nil {
		e.logger.Printf("scan %s: mirror push %s failed: %v", evt.ID, path, err)
	}
}
