// Package notify reports scan outcomes to whatever gives the user feedback:
// the log, a display or an LED controller listening on MQTT.
package notify

import (
	"context"
	"log"

	"fingerattend/internal/attendance"
)

// Notifier receives every processed scan.
type Notifier interface {
	Notify(ctx context.Context, res attendance.Result)
}

// Signal is the feedback colour for an outcome.
type Signal string

const (
	SignalOK    Signal = "green"
	SignalWarn  Signal = "orange"
	SignalError Signal = "red"
)

// SignalFor maps an outcome to its feedback colour.
func SignalFor(o attendance.Outcome) Signal {
	switch o {
	case attendance.CheckedIn, attendance.CheckedOut:
		return SignalOK
	case attendance.DuplicateRejected:
		return SignalWarn
	default:
		return SignalError
	}
}

// Message is the short status line shown for an outcome.
func Message(o attendance.Outcome) string {
	switch o {
	case attendance.CheckedIn:
		return "Marked in"
	case attendance.CheckedOut:
		return "Marked out"
	case attendance.DuplicateRejected:
		return "Already marked out"
	case attendance.UnknownIdentity:
		return "ID not found"
	default:
		return "Failed to update record"
	}
}

// Log writes one line per scan.
type Log struct {
	Logger *log.Logger
}

// Notify logs res.
func (l Log) Notify(_ context.Context, res attendance.Result) {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	evt := res.Event
	switch res.Outcome {
	case attendance.CheckedIn, attendance.CheckedOut, attendance.DuplicateRejected:
		logger.Printf("scan %s: id=%d roll=%s name=%q day=%s in=%s out=%s -> %s",
			evt.ID, evt.IdentityID, res.Record.RollNumber, res.Record.Name, evt.Day,
			res.Record.CheckIn, res.Record.CheckOut, res.Outcome)
	case attendance.StorageError:
		logger.Printf("scan %s: id=%d day=%s -> %s: %v", evt.ID, evt.IdentityID, evt.Day, res.Outcome, res.Err)
	default:
		logger.Printf("scan %s: id=%d day=%s -> %s", evt.ID, evt.IdentityID, evt.Day, res.Outcome)
	}
}

// Multi fans a result out to several notifiers in order.
type Multi []Notifier

// Notify calls every notifier.
func (m Multi) Notify(ctx context.Context, res attendance.Result) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, res)
		}
	}
}
