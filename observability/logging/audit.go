package logging

import (
	"log/slog"

	coreevents "termrepo/core/events"
	"termrepo/core/types"
)

type attributed interface {
	Event() *types.Event
}

// AuditEmitter writes every engine event to the structured log, flattening
// the event's attribute map into log fields.
type AuditEmitter struct {
	logger *slog.Logger
}

// NewAuditEmitter builds an emitter over the logger; a nil logger falls back
// to the process default.
func NewAuditEmitter(logger *slog.Logger) *AuditEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditEmitter{logger: logger}
}

// Emit implements events.Emitter.
func (a *AuditEmitter) Emit(evt coreevents.Event) {
	if a == nil || evt == nil {
		return
	}
	args := []any{slog.String("event", evt.EventType())}
	if attrs, ok := evt.(attributed); ok {
		if converted := attrs.Event(); converted != nil {
			for key, value := range converted.Attributes {
				args = append(args, slog.String(key, value))
			}
		}
	}
	a.logger.Info("engine event", args...)
}
