package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"nftlend/core/events"
)

// EventMetrics counts committed engine events. It satisfies events.Emitter so
// it can sit in the daemon's emitter fan-out.
type EventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking structured engine events.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = newEventMetrics()
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

func newEventMetrics() *EventMetrics {
	return &EventMetrics{
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftlend",
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Count of committed engine events segmented by type.",
		}, []string{"type"}),
	}
}

// Emit implements events.Emitter.
func (m *EventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	normalized := strings.TrimSpace(evt.EventType())
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}
