package pipeline

import (
	"context"
	"log/slog"
)

// Kind names what an Output carries.
type Kind string

const (
	KindAlert       Kind = "alert"
	KindRawAlert    Kind = "raw_alert"
	KindTaggedEvent Kind = "tagged_event"
	KindAnomaly     Kind = "anomaly"
	KindAggregate   Kind = "aggregate"
	KindError       Kind = "error"
)

// Output is one thing the pipeline hands to the outside world.
type Output struct {
	Kind      Kind   `json:"kind"`
	Partition int    `json:"partition"`
	EventID   string `json:"event_id,omitempty"`
	Payload   any    `json:"payload"`
}

// Publisher delivers outputs. It is called from every partition goroutine
// and must be safe for concurrent use. Delivery is at most once.
type Publisher interface {
	Publish(ctx context.Context, out Output) error
}

// LogPublisher writes outputs to a structured log.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger.With("component", "publisher")}
}

func (p *LogPublisher) Publish(ctx context.Context, out Output) error {
	level := slog.LevelInfo
	if out.Kind == KindError {
		level = slog.LevelWarn
	}
	p.logger.LogAttrs(ctx, level, "output",
		slog.String("kind", string(out.Kind)),
		slog.Int("partition", out.Partition),
		slog.String("event_id", out.EventID),
		slog.Any("payload", out.Payload),
	)
	return nil
}
