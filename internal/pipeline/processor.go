package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-fanout-service/internal/fanout"
)

// EventHandler runs the fan-out pipeline for one decoded event.
type EventHandler interface {
	Handle(ctx context.Context, ev *fanout.Event) error
}

// NewProcessor wraps the handler as a dataflow StreamProcessor. Failures are
// logged and the message acked regardless: the trigger is never asked to
// redeliver, because partial work (a push already sent, a token already
// cleared) is not rolled back.
func NewProcessor(handler EventHandler, logger *slog.Logger) messagepipeline.StreamProcessor[fanout.Event] {
	return func(ctx context.Context, original messagepipeline.Message, ev *fanout.Event) error {
		procLogger := logger.With(
			"pubsub_msg_id", original.ID,
			"kind", ev.Route.Kind,
			"container_id", ev.ContainerID,
		)

		if err := handler.Handle(ctx, ev); err != nil {
			procLogger.Error("Fan-out failed; event dropped.", "err", err)
		}
		return nil
	}
}
