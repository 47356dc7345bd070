package attendance

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fingerattend/internal/ledger"
	"fingerattend/internal/metrics"
	"fingerattend/internal/roster"
)

var quiet = log.New(io.Discard, "", 0)

type push struct {
	path   string
	fields map[string]string
}

type fakeMirror struct {
	mu     sync.Mutex
	pushes []push
	err    error
}

func (m *fakeMirror) Push(_ context.Context, path string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, push{path: path, fields: fields})
	return m.err
}

type fixture struct {
	engine  *Engine
	ledger  *ledger.Store
	dir     *roster.Directory
	mirror  *fakeMirror
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	rosterPath := filepath.Join(root, "students.csv")
	require.NoError(t, os.WriteFile(rosterPath, []byte("ID,Roll Number,Name\n7,R1,Asha\n8,R2,\"Rao, Bala\"\n"), 0o644))

	dir, err := roster.Load(rosterPath, quiet)
	require.NoError(t, err)
	led := ledger.NewStore(filepath.Join(root, "Attendance"), "csv", quiet)
	m := &fakeMirror{}
	met := metrics.New(prometheus.NewRegistry())

	return &fixture{
		engine:  NewEngine(dir, led, m, WithLogger(quiet), WithMetrics(met), WithMirrorTimeout(time.Second)),
		ledger:  led,
		dir:     dir,
		mirror:  m,
		metrics: met,
	}
}

func at(t *testing.T, day, clock string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("02-01-2006 15:04:05", day+" "+clock, time.UTC)
	require.NoError(t, err)
	return ts
}

func (f *fixture) scan(t *testing.T, id int, day, clock string) Result {
	t.Helper()
	return f.engine.Reconcile(context.Background(), NewScanEvent(id, at(t, day, clock), time.UTC))
}

func (f *fixture) ledgerBytes(t *testing.T, day string) []byte {
	t.Helper()
	d, err := ledger.ParseDay(day)
	require.NoError(t, err)
	data, err := os.ReadFile(f.ledger.PathFor(d))
	require.NoError(t, err)
	return data
}

func TestReconcile_CheckInCheckOutDuplicate(t *testing.T) {
	f := newFixture(t)

	res := f.scan(t, 7, "01-06-2024", "09:01:00")
	require.Equal(t, CheckedIn, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, "01-06-2024", res.Event.Day.String())
	assert.Equal(t, "Asha", res.Identity.Name)
	assert.Equal(t, ledger.Record{IdentityID: 7, RollNumber: "R1", Name: "Asha", CheckIn: "09:01:00", CheckOut: "-"}, res.Record)
	assert.Equal(t,
		"Roll Number,Name,Fingerprint ID,In Time,Out Time\nR1,Asha,7,09:01:00,-\n",
		string(f.ledgerBytes(t, "01-06-2024")))

	res = f.scan(t, 7, "01-06-2024", "17:30:00")
	require.Equal(t, CheckedOut, res.Outcome)
	assert.Equal(t, "17:30:00", res.Record.CheckOut)
	afterCheckout := f.ledgerBytes(t, "01-06-2024")
	assert.Equal(t,
		"Roll Number,Name,Fingerprint ID,In Time,Out Time\nR1,Asha,7,09:01:00,17:30:00\n",
		string(afterCheckout))

	res = f.scan(t, 7, "01-06-2024", "18:00:00")
	require.Equal(t, DuplicateRejected, res.Outcome)
	assert.Equal(t, "17:30:00", res.Record.CheckOut)
	assert.Equal(t, afterCheckout, f.ledgerBytes(t, "01-06-2024"), "duplicate leaves the ledger byte-for-byte unchanged")

	require.Len(t, f.mirror.pushes, 2, "duplicates are not mirrored")
	assert.Equal(t, push{
		path:   "/attendance/06/01-06-2024/7",
		fields: map[string]string{"name": "Asha", "rollNumber": "R1", "inTime": "09:01:00", "outTime": "-"},
	}, f.mirror.pushes[0])
	assert.Equal(t, "17:30:00", f.mirror.pushes[1].fields["outTime"])

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Scans.WithLabelValues("CheckedIn")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Scans.WithLabelValues("DuplicateRejected")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.MirrorPushes.WithLabelValues("ok")))
}

func TestReconcile_ManyScansSingleRecord(t *testing.T) {
	f := newFixture(t)

	var outcomes []Outcome
	for i := 0; i < 6; i++ {
		clock := time.Date(2024, 6, 1, 9, i, 0, 0, time.UTC).Format(TimeLayout)
		outcomes = append(outcomes, f.scan(t, 8, "01-06-2024", clock).Outcome)
	}
	assert.Equal(t, []Outcome{CheckedIn, CheckedOut, DuplicateRejected, DuplicateRejected, DuplicateRejected, DuplicateRejected}, outcomes)

	day, _ := ledger.ParseDay("01-06-2024")
	recs, err := f.ledger.LoadAll(day)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ledger.Record{IdentityID: 8, RollNumber: "R2", Name: "Rao, Bala", CheckIn: "09:00:00", CheckOut: "09:01:00"}, recs[0])
}

func TestReconcile_NewDayStartsOver(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, CheckedIn, f.scan(t, 7, "01-06-2024", "09:00:00").Outcome)
	require.Equal(t, CheckedOut, f.scan(t, 7, "01-06-2024", "17:00:00").Outcome)
	require.Equal(t, CheckedIn, f.scan(t, 7, "02-06-2024", "09:00:00").Outcome)
	require.Equal(t, CheckedIn, f.scan(t, 7, "01-07-2024", "09:00:00").Outcome)

	days, err := f.ledger.Days()
	require.NoError(t, err)
	assert.Len(t, days, 3)
}

func TestReconcile_UnknownIdentityWritesNothing(t *testing.T) {
	f := newFixture(t)

	res := f.scan(t, 99, "01-06-2024", "09:00:00")
	assert.Equal(t, UnknownIdentity, res.Outcome)
	assert.NoError(t, res.Err)

	_, err := os.Stat(f.ledger.Root())
	assert.True(t, os.IsNotExist(err), "no ledger directory or file is created")
	assert.Empty(t, f.mirror.pushes)
}

func TestReconcile_ReReadsLedgerEveryScan(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, CheckedIn, f.scan(t, 7, "01-06-2024", "09:00:00").Outcome)

	// An administrator deletes the day out from under the engine.
	day, _ := ledger.ParseDay("01-06-2024")
	require.NoError(t, f.ledger.Delete(day))

	assert.Equal(t, CheckedIn, f.scan(t, 7, "01-06-2024", "10:00:00").Outcome)
}

func TestReconcile_MirrorFailureDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t)
	f.mirror.err = errors.New("network down")

	assert.Equal(t, CheckedIn, f.scan(t, 7, "01-06-2024", "09:00:00").Outcome)
	assert.Equal(t, CheckedOut, f.scan(t, 7, "01-06-2024", "17:00:00").Outcome)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.MirrorPushes.WithLabelValues("error")))
}

func TestReconcile_StorageErrorOnAppend(t *testing.T) {
	f := newFixture(t)

	// A regular file where the month directory should be.
	require.NoError(t, os.MkdirAll(f.ledger.Root(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.ledger.Root(), "06"), []byte("x"), 0o644))

	res := f.scan(t, 7, "01-06-2024", "09:00:00")
	assert.Equal(t, StorageError, res.Outcome)
	assert.Error(t, res.Err)
	assert.Empty(t, f.mirror.pushes)
}

type failingRewrite struct {
	*ledger.Store
}

func (failingRewrite) RewriteWithCheckOut(ledger.Day, int, string) (ledger.Record, error) {
	return ledger.Record{}, errors.New("rename failed")
}

func TestReconcile_StorageErrorOnRewriteKeepsCheckIn(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, CheckedIn, f.scan(t, 7, "01-06-2024", "09:00:00").Outcome)
	before := f.ledgerBytes(t, "01-06-2024")

	e := NewEngine(f.dir, failingRewrite{f.ledger}, f.mirror, WithLogger(quiet))
	res := e.Reconcile(context.Background(), NewScanEvent(7, at(t, "01-06-2024", "17:00:00"), time.UTC))
	assert.Equal(t, StorageError, res.Outcome)
	assert.Equal(t, before, f.ledgerBytes(t, "01-06-2024"))

	// The ledger still says checked in, so a working engine can finish.
	assert.Equal(t, CheckedOut, f.scan(t, 7, "01-06-2024", "17:05:00").Outcome)
}

func TestReconcile_ConcurrentScansSerialized(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	results := make(chan Outcome, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.scan(t, 7, "01-06-2024", "09:00:00").Outcome
		}()
	}
	wg.Wait()
	close(results)

	counts := map[Outcome]int{}
	for o := range results {
		counts[o]++
	}
	assert.Equal(t, map[Outcome]int{CheckedIn: 1, CheckedOut: 1, DuplicateRejected: 8}, counts)
}

func TestNewScanEvent_UsesLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	ts := time.Date(2024, 5, 31, 20, 0, 0, 0, time.UTC)

	evt := NewScanEvent(7, ts, loc)
	assert.Equal(t, "01-06-2024", evt.Day.String())
	assert.Equal(t, "01:30:00", evt.Timestamp.Format(TimeLayout))
	assert.NotEmpty(t, evt.ID)
}

func TestReconcile_FillsMissingDay(t *testing.T) {
	f := newFixture(t)
	res := f.engine.Reconcile(context.Background(), ScanEvent{IdentityID: 7, Timestamp: at(t, "03-06-2024", "08:00:00")})
	assert.Equal(t, CheckedIn, res.Outcome)
	assert.Equal(t, "03-06-2024", res.Event.Day.String())
}
