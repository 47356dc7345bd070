package scanner

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fingerattend/internal/attendance"
)

var quiet = log.New(io.Discard, "", 0)

type capture struct {
	id      int
	matched bool
	err     error
}

type scriptedMatcher struct {
	mu     sync.Mutex
	script []capture
	calls  int
}

func (m *scriptedMatcher) Capture(context.Context) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.script) == 0 {
		return 0, false, nil
	}
	c := m.script[0]
	m.script = m.script[1:]
	return c.id, c.matched, c.err
}

func (m *scriptedMatcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type recordingEngine struct {
	mu     sync.Mutex
	events []attendance.ScanEvent
}

func (e *recordingEngine) Reconcile(_ context.Context, evt attendance.ScanEvent) attendance.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
	return attendance.Result{Event: evt, Outcome: attendance.CheckedIn}
}

func (e *recordingEngine) Events() []attendance.ScanEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]attendance.ScanEvent(nil), e.events...)
}

type collector struct {
	mu      sync.Mutex
	results []attendance.Result
}

func (c *collector) Notify(_ context.Context, res attendance.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
}

func TestTick(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	fixed := time.Date(2024, 5, 31, 20, 0, 0, 0, time.UTC)
	m := &scriptedMatcher{script: []capture{
		{id: 7, matched: true},
		{matched: false},
		{err: errors.New("sensor timeout")},
	}}
	eng := &recordingEngine{}
	notes := &collector{}
	l := New(m, eng, WithLocation(ist), WithClock(func() time.Time { return fixed }), WithNotifier(notes), WithLogger(quiet))

	res, ok, err := l.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, attendance.CheckedIn, res.Outcome)
	assert.Equal(t, 7, res.Event.IdentityID)
	assert.Equal(t, "01-06-2024", res.Event.Day.String())
	assert.Equal(t, "01:30:00", res.Event.Timestamp.Format(attendance.TimeLayout))

	_, ok, err = l.Tick(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = l.Tick(context.Background())
	assert.EqualError(t, err, "sensor timeout")
	assert.False(t, ok)

	assert.Len(t, eng.Events(), 1, "only matches reach the engine")
	assert.Len(t, notes.results, 1)
}

func TestRun_ProcessesMatchesUntilCancelled(t *testing.T) {
	m := &scriptedMatcher{script: []capture{
		{id: 1, matched: true},
		{err: errors.New("transient")},
		{id: 2, matched: true},
	}}
	eng := &recordingEngine{}
	l := New(m, eng, WithInterval(5*time.Millisecond), WithLogger(quiet), WithNotifier(&collector{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return len(eng.Events()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	ids := []int{eng.Events()[0].IdentityID, eng.Events()[1].IdentityID}
	assert.Equal(t, []int{1, 2}, ids)
}

func TestPauseResume(t *testing.T) {
	m := &scriptedMatcher{}
	l := New(m, &recordingEngine{}, WithInterval(2*time.Millisecond), WithLogger(quiet))
	assert.True(t, l.Active())

	l.Pause()
	assert.False(t, l.Active())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, m.Calls(), "a paused loop does not capture")

	l.Resume()
	require.Eventually(t, func() bool { return m.Calls() > 0 }, time.Second, 2*time.Millisecond)
}
