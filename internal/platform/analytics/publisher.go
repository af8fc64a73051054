// Package analytics provides a fire-and-forget NATS publisher for engagement
// events. Consumers read them from the ANALYTICS JetStream stream.
package analytics

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// StreamName is the JetStream stream that captures SubjectWildcard.
const StreamName = "ANALYTICS"

const (
	SubjectWildcard       = "analytics.>"
	SubjectVoteCast       = "analytics.engagement.vote_cast"
	SubjectFavoriteToggle = "analytics.engagement.favorite_toggled"
	SubjectCommentAdded   = "analytics.engagement.comment_added"
)

// Event is the canonical envelope sent to all analytics.* subjects.
type Event struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	UserID     string         `json:"user_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Sink is the subset of nats.JetStreamContext the publisher needs.
type Sink interface {
	PublishAsync(subj string, data []byte, opts ...nats.PubOpt) (nats.PubAckFuture, error)
}

// Publisher publishes analytics events to NATS JetStream.
// A nil pointer is a safe no-op stub.
type Publisher struct {
	sink Sink
	log  *zap.Logger
	now  func() time.Time
}

// New creates a Publisher. Pass sink=nil to get a no-op stub (useful in
// tests and deployments without NATS).
func New(sink Sink, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{sink: sink, log: log, now: time.Now}
}

// Publish sends an analytics event asynchronously (fire-and-forget).
// Failures are logged as warnings and never surface to the caller.
func (p *Publisher) Publish(subject, eventName, userID string, props map[string]any) {
	if p == nil || p.sink == nil {
		return
	}
	ev := Event{
		EventID:    uuid.NewString(),
		EventName:  eventName,
		UserID:     userID,
		OccurredAt: p.now().UTC(),
		Properties: props,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("analytics: marshal failed", zap.String("event", eventName), zap.Error(err))
		return
	}
	if _, err := p.sink.PublishAsync(subject, data); err != nil {
		p.log.Warn("analytics: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
