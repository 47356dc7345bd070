package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	"fingerattend/internal/queue"
)

// PushMessageType tags queue messages produced by Queued.
const PushMessageType = "mirror.push"

// PushRequest is the queued form of one Push call.
type PushRequest struct {
	Path   string            `json:"path"`
	Fields map[string]string `json:"fields"`
}

// Queued defers pushes to a queue; a worker drains it with Forward.
type Queued struct {
	q queue.Queue
}

// NewQueued returns a mirror that publishes to q.
func NewQueued(q queue.Queue) *Queued {
	return &Queued{q: q}
}

// Push enqueues the document. It only fails if the queue rejects it.
func (m *Queued) Push(ctx context.Context, path string, fields map[string]string) error {
	msg, err := queue.NewMessage(PushMessageType, PushRequest{Path: path, Fields: fields})
	if err != nil {
		return err
	}
	if err := m.q.Publish(ctx, msg); err != nil {
		return fmt.Errorf("queue mirror push %s: %w", path, err)
	}
	return nil
}

// Forward replays one queued push against target. Messages of other types
// are ignored.
func Forward(ctx context.Context, msg queue.Message, target Mirror) error {
	if msg.Type != PushMessageType {
		return nil
	}
	var req PushRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		return fmt.Errorf("decode push %s: %w", msg.ID, err)
	}
	if req.Path == "" {
		return fmt.Errorf("push %s: empty path", msg.ID)
	}
	return target.Push(ctx, req.Path, req.Fields)
}
