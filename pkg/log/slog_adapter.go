package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes captured events to an slog.Logger at debug level.
// Useful during development to see the capture on the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event as a single "session" record.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session_id", event.SessionID),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.ApplianceID != "" {
		attrs = append(attrs, slog.String("appliance_id", event.ApplianceID))
	}

	switch {
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("direction", event.Direction.String()),
			slog.String("kind", event.Message.Kind),
			slog.Int("size", event.Message.Size),
		)
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
			slog.Int("retries", event.StateChange.Retries),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Appliance != nil:
		if event.Appliance.Available != nil {
			attrs = append(attrs, slog.Bool("available", *event.Appliance.Available))
		}
		if event.Appliance.Initialized {
			attrs = append(attrs, slog.Bool("initialized", true), slog.String("type", event.Appliance.Type))
		}
	case event.Auth != nil:
		attrs = append(attrs,
			slog.String("flow", event.Auth.Flow.String()),
			slog.Bool("success", event.Auth.Success),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.Bool("fatal", event.Error.Fatal),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "session", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
