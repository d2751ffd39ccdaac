package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is where lifecycle events are published when no
// prefix is configured.
const DefaultSubjectPrefix = "aria.execution"

// AttachNATS forwards every signal published on the bus to NATS, one subject
// per signal: <prefix>.<signal>.<execution-id>. Publish failures are logged,
// not surfaced; external observers are best effort and must not affect the
// engine. Returns the unsubscribe function.
func AttachNATS(bus *Bus, nc *nats.Conn, prefix string, logger *slog.Logger) func() {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	return bus.SubscribeAll(func(event Event) {
		data, err := json.Marshal(event)
		if err != nil {
			logger.Error("marshal lifecycle event", "signal", event.Signal, "error", err)
			return
		}
		subject := fmt.Sprintf("%s.%s.%s", prefix, event.Signal, event.ExecutionID)
		if err := nc.Publish(subject, data); err != nil {
			logger.Warn("publish lifecycle event",
				"subject", subject,
				"signal", event.Signal,
				"error", err)
		}
	})
}
