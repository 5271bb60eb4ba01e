// File: internal/infra/redis/events.go
package redis

import (
	"context"
	"encoding/json"
	"time"

	"document-ai-indexing/internal/domain/ports/adapter"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// Event is the JSON envelope published on a workspace's channel.
type Event struct {
	Type        string          `json:"type"` // progress | completed | error | cancelled
	WorkspaceID string          `json:"workspace_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	At          time.Time       `json:"at"`
}

const (
	EventTypeProgress  = "progress"
	EventTypeCompleted = "completed"
	EventTypeError     = "error"
	EventTypeCancelled = "cancelled"
)

// ChannelFor returns the pub/sub channel name for a workspace.
func ChannelFor(workspaceID string) string { return "workspace_events:" + workspaceID }

var _ adapter.EventPublisher = (*EventPublisher)(nil)

// EventPublisher broadcasts job notices over Redis pub/sub. Delivery is
// at-most-once: a workspace with no subscribers simply drops the event,
// and consumers fall back to polling the job record.
type EventPublisher struct {
	cli *redis.Client
	log *zerolog.Logger
}

func NewEventPublisher(c *Client, logger *zerolog.Logger) *EventPublisher {
	evLog := logger.With().Str("component", "EventPublisher").Logger()
	return &EventPublisher{cli: c.cli, log: &evLog}
}

func (p *EventPublisher) publish(ctx context.Context, workspaceID, eventType string, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}
	ev := Event{Type: eventType, WorkspaceID: workspaceID, Payload: raw, At: time.Now()}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.cli.Publish(ctx, ChannelFor(workspaceID), b).Err(); err != nil {
		p.log.Warn().Err(err).Str("workspace_id", workspaceID).Str("type", eventType).Msg("event publish failed")
		return err
	}
	return nil
}

func (p *EventPublisher) PublishProgress(ctx context.Context, workspaceID string, n adapter.ProgressNotice) error {
	return p.publish(ctx, workspaceID, EventTypeProgress, n)
}

func (p *EventPublisher) PublishCompleted(ctx context.Context, workspaceID string, n adapter.CompletionNotice) error {
	return p.publish(ctx, workspaceID, EventTypeCompleted, n)
}

func (p *EventPublisher) PublishError(ctx context.Context, workspaceID, jobID, message string) error {
	return p.publish(ctx, workspaceID, EventTypeError, map[string]string{"job_id": jobID, "message": message})
}

func (p *EventPublisher) PublishCancelled(ctx context.Context, workspaceID, jobID string) error {
	return p.publish(ctx, workspaceID, EventTypeCancelled, map[string]string{"job_id": jobID})
}

// Subscribe returns a channel of raw event payloads for a workspace plus a
// cancel function. The websocket bridge consumes this.
func (p *EventPublisher) Subscribe(ctx context.Context, workspaceID string) (<-chan []byte, func()) {
	sub := p.cli.Subscribe(ctx, ChannelFor(workspaceID))
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }
}
