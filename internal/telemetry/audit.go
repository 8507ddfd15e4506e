package telemetry

import (
	"context"
	"log"
	"time"
)

// Publisher delivers audit events to the message bus.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter records message mutations (edits and deletions) on the audit
// bus. Reads and sends are not audited; the message rows themselves are the
// record for those.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

// AuditEvent is the versioned wire shape consumed by the audit pipeline.
// ActorID is the authenticated user who performed the mutation, MessageID
// the row it touched.
type AuditEvent struct {
	SchemaVersion int     `json:"schema_version"`
	EventType     string  `json:"event_type"`
	OccurredAt    string  `json:"occurred_at"`
	Service       string  `json:"service"`
	Environment   string  `json:"environment"`
	RequestID     string  `json:"request_id"`
	ActorID       *string `json:"actor_id,omitempty"`
	Action        string  `json:"action"`
	MessageID     int     `json:"message_id"`
}

// NewAuditEmitter constructs an AuditEmitter.
func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes one audit event. A nil emitter or publisher is a no-op so
// callers never need to guard the call, and a publish failure never reaches
// the mutation's response path.
func (e *AuditEmitter) Emit(ctx context.Context, action string, messageID int, requestID string, actorID *string) {
	if e == nil || e.publisher == nil {
		return
	}

	event := AuditEvent{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		ActorID:       actorID,
		Action:        action,
		MessageID:     messageID,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, event); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}
