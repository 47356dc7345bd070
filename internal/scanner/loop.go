// Package scanner drives continuous scanning: it polls the match service at
// a fixed minimum interval and hands every match to the reconciliation
// engine.
package scanner

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"fingerattend/internal/attendance"
	"fingerattend/internal/notify"
)

// Matcher captures one fingerprint and reports the matched identity.
type Matcher interface {
	Capture(ctx context.Context) (identityID int, matched bool, err error)
}

// Reconciler processes a scan event.
type Reconciler interface {
	Reconcile(ctx context.Context, evt attendance.ScanEvent) attendance.Result
}

// Loop is the scan loop. It can be paused and resumed while running.
type Loop struct {
	matcher  Matcher
	engine   Reconciler
	notifier notify.Notifier
	interval time.Duration
	loc      *time.Location
	now      func() time.Time
	logger   *log.Logger

	active atomic.Bool
}

// Option configures a Loop.
type Option func(*Loop)

// WithInterval sets the minimum time between two captures. Default 1s.
func WithInterval(d time.Duration) Option { return func(l *Loop) { l.interval = d } }

// WithLocation sets the zone used for day keys and times.
func WithLocation(loc *time.Location) Option { return func(l *Loop) { l.loc = loc } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(l *Loop) { l.now = now } }

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option { return func(l *Loop) { l.logger = logger } }

// WithNotifier reports every result to n.
func WithNotifier(n notify.Notifier) Option { return func(l *Loop) { l.notifier = n } }

// New returns an active loop.
func New(m Matcher, r Reconciler, opts ...Option) *Loop {
	l := &Loop{
		matcher:  m,
		engine:   r,
		interval: time.Second,
		loc:      time.Local,
		now:      time.Now,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.interval <= 0 {
		l.interval = time.Second
	}
	if l.notifier == nil {
		l.notifier = notify.Log{Logger: l.logger}
	}
	l.active.Store(true)
	return l
}

// Resume starts capturing again after Pause.
func (l *Loop) Resume() {
	if !l.active.Swap(true) {
		l.logger.Println("scanner: continuous scanning started")
	}
}

// Pause stops capturing until Resume. Run keeps ticking.
func (l *Loop) Pause() {
	if l.active.Swap(false) {
		l.logger.Println("scanner: continuous scanning stopped")
	}
}

// Active reports whether captures are being taken.
func (l *Loop) Active() bool { return l.active.Load() }

// Tick performs one capture. It returns the engine's result and true when
// the sensor matched someone.
func (l *Loop) Tick(ctx context.Context) (attendance.Result, bool, error) {
	id, matched, err := l.matcher.Capture(ctx)
	if err != nil || !matched {
		return attendance.Result{}, false, err
	}
	evt := attendance.NewScanEvent(id, l.now(), l.loc)
	res := l.engine.Reconcile(ctx, evt)
	l.notifier.Notify(ctx, res)
	return res, true, nil
}

// Run captures every interval until ctx is done. A slow capture delays the
// next one; ticks are never queued up.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Printf("scanner: running every %s", l.interval)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Println("scanner: stopped")
			return ctx.Err()
		case <-ticker.C:
		}
		if !l.Active() {
			continue
		}
		if _, _, err := l.Tick(ctx); err != nil && ctx.Err() == nil {
			l.logger.Printf("scanner: capture failed: %v", err)
		}
	}
}
