package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/gatortaxi/internal/ride/domain"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "ride.events"

type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSPublisher writes ride events as JSON to a NATS subject.
type NATSPublisher struct {
	conn    msgPublisher
	subject string
}

// NewNATSPublisher builds a publisher on the provided connection. A nil
// connection yields a publisher that drops events.
func NewNATSPublisher(conn *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	p := &NATSPublisher{subject: subject}
	if conn != nil {
		p.conn = conn
	}
	return p
}

// Publish satisfies domain.EventPublisher.
func (p *NATSPublisher) Publish(ctx context.Context, event domain.RideEvent) error {
	if p == nil || p.conn == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ride event: %w", err)
	}

	msg := nats.NewMsg(p.subject + "." + eventToken(event.Type))
	msg.Data = payload
	msg.Header.Set("x-event-id", event.ID.String())
	msg.Header.Set("x-event-type", string(event.Type))
	if traceID := traceIDFromContext(ctx); traceID != "" {
		msg.Header.Set("x-trace-id", traceID)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func eventToken(t domain.RideEventType) string {
	switch t {
	case domain.EventRideRequested:
		return "requested"
	case domain.EventRideDispatched:
		return "dispatched"
	case domain.EventRideCancelled:
		return "cancelled"
	case domain.EventRideShortened:
		return "shortened"
	case domain.EventRideRepriced:
		return "repriced"
	case domain.EventRideAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
