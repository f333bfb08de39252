package events

// Event represents a structured state change emitted by the accounting core.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. indexers,
// monitors). Emission is fire-and-forget and never affects control flow.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans a single emission out to every registered sink.
type MultiEmitter struct {
	sinks []Emitter
}

// NewMultiEmitter constructs an emitter broadcasting to the provided sinks.
// Nil sinks are skipped.
func NewMultiEmitter(sinks ...Emitter) *MultiEmitter {
	kept := make([]Emitter, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &MultiEmitter{sinks: kept}
}

// Emit implements the Emitter interface.
func (m *MultiEmitter) Emit(evt Event) {
	if m == nil {
		return
	}
	for _, s := range m.sinks {
		s.Emit(evt)
	}
}
