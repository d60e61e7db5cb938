package sink

import (
	"context"
	"log/slog"

	"bondledger/internal/notify"
)

// Log writes entries to the structured log. Used when no broker is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Publish(ctx context.Context, entries []notify.Entry) error {
	for _, e := range entries {
		l.logger.InfoContext(ctx, "ledger notification",
			"event_id", e.ID.String(),
			"event_type", string(e.Type),
			"aggregate_id", e.AggregateID,
			"payload", string(e.Payload),
		)
	}
	return nil
}
