package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	engineEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subunit",
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Number of test-result events decoded, per input stream and kind.",
		}, []string{"stream", "kind"},
	)
	engineFiltered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "subunit",
			Subsystem: "engine",
			Name:      "filtered_total",
			Help:      "Number of events dropped by the engine filter.",
		},
	)
	streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subunit",
			Subsystem: "engine",
			Name:      "stream_errors_total",
			Help:      "Number of input streams that ended with an error, per classification.",
		}, []string{"class"},
	)
	openStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "subunit",
			Subsystem: "engine",
			Name:      "open_streams",
			Help:      "Input streams currently being decoded.",
		},
	)
	encoderEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subunit",
			Subsystem: "encoder",
			Name:      "events_total",
			Help:      "Number of events written to the output sink, per wire format.",
		}, []string{"format"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{engineEvents, engineFiltered, streamErrors, openStreams, encoderEvents}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// The helpers below no-op until Register has been called.

func IncEvent(stream, kind string) {
	if regOK.Load() {
		engineEvents.WithLabelValues(stream, kind).Inc()
	}
}

func IncFiltered() {
	if regOK.Load() {
		engineFiltered.Inc()
	}
}

func IncStreamError(class string) {
	if regOK.Load() {
		streamErrors.WithLabelValues(class).Inc()
	}
}

func StreamOpened() {
	if regOK.Load() {
		openStreams.Inc()
	}
}

func StreamClosed() {
	if regOK.Load() {
		openStreams.Dec()
	}
}

func IncEncoded(format string) {
	if regOK.Load() {
		encoderEvents.WithLabelValues(format).Inc()
	}
}
