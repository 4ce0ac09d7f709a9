package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/kneadly/internal/booking/domain"
)

// NATSBroadcaster publishes topic events to NATS subjects under a common
// prefix, so `booking.<id>` becomes `kneadly.events.booking.<id>`.
type NATSBroadcaster struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSBroadcaster builds a broadcaster on an existing connection.
func NewNATSBroadcaster(conn *nats.Conn, prefix string) *NATSBroadcaster {
	if prefix == "" {
		prefix = "kneadly.events"
	}
	return &NATSBroadcaster{conn: conn, prefix: prefix}
}

// Publish satisfies domain.Broadcaster.
func (b *NATSBroadcaster) Publish(ctx context.Context, topic string, event domain.Event) error {
	if b == nil || b.conn == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return b.conn.PublishMsg(&nats.Msg{
		Subject: b.prefix + "." + topic,
		Data:    payload,
		Header: map[string][]string{
			"x-trace-id":   {traceIDFromContext(ctx)},
			"x-event-type": {event.Type},
		},
	})
}

func traceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
