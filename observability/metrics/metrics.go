package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"termrepo/core/events"
)

// Recorder counts engine events by type. It satisfies events.Emitter so it
// can sit in a MultiEmitter next to the audit sink.
type Recorder struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
}

// NewRecorder registers the event counters on a fresh registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	eventCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "termrepo",
		Name:      "events_total",
		Help:      "Engine events emitted, by event type.",
	}, []string{"type"})
	registry.MustRegister(eventCounter)
	return &Recorder{registry: registry, events: eventCounter}
}

// Emit counts the event.
func (r *Recorder) Emit(evt events.Event) {
	if r == nil || evt == nil {
		return
	}
	r.events.WithLabelValues(evt.EventType()).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
