// Package events delivers committed engine events to their consumers: the
// structured log, live WebSocket clients and the Kafka indexing stream.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/creatorpad/settlement-engine/internal/model"
)

// Sink receives the events of one committed operation, in order. Publish
// must not block the caller on slow consumers.
type Sink interface {
	Publish(ctx context.Context, events []model.Event)
}

// Fanout publishes to every sink in turn.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, events []model.Event) {
	if len(events) == 0 {
		return
	}
	for _, s := range f {
		s.Publish(ctx, events)
	}
}

// LogSink writes every event to a slog logger. Monitoring events go out at
// Warn so they survive a production log level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, events []model.Event) {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	for _, ev := range events {
		level := slog.LevelDebug
		switch ev.Type {
		case model.EventMEVAttemptBlocked, model.EventSuspiciousActivity:
			level = slog.LevelWarn
		case model.EventLargeTrade, model.EventPriceImpactWarning, model.EventHolderMilestone:
			level = slog.LevelInfo
		}
		log.Log(ctx, level, "event",
			"type", ev.Type,
			"token", ev.Token.Hex(),
			"block", ev.Block,
			"data", ev.Data,
		)
	}
}

// Encode renders an event as the JSON object sent to clients and indexers.
func Encode(ev model.Event) ([]byte, error) {
	return json.Marshal(ev)
}
