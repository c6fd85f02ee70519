package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
		slog.String("role", event.LocalRole.String()),
	}
	if event.Protocol != "" {
		attrs = append(attrs, slog.String("protocol", event.Protocol))
	}
	if event.CipherSuite != "" {
		attrs = append(attrs, slog.String("cipher", event.CipherSuite))
	}

	switch {
	case event.Record != nil:
		attrs = append(attrs,
			slog.Int("content_type", int(event.Record.ContentType)),
			slog.Uint64("seq", event.Record.Sequence),
			slog.Int("record_size", event.Record.Size),
		)
		if event.Record.Epoch != 0 {
			attrs = append(attrs, slog.Int("epoch", int(event.Record.Epoch)))
		}
	case event.Handshake != nil:
		attrs = append(attrs,
			slog.String("msg", event.Handshake.Name),
			slog.Int("msg_len", event.Handshake.Length),
		)
		if event.Handshake.Retransmit {
			attrs = append(attrs, slog.Bool("retransmit", true))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Alert != nil:
		attrs = append(attrs,
			slog.Int("alert_level", int(event.Alert.Level)),
			slog.String("alert", event.Alert.Name),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Kind != "" {
			attrs = append(attrs, slog.String("error_kind", event.Error.Kind))
		}
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
