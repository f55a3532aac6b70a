// metrics.go: Prometheus instrumentation for the New Relic writer
//
// Copyright (c) 2025 AGILira
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package newrelicwriter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks the writer pipeline. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	EventsAccepted  prometheus.Counter
	EventsDropped   *prometheus.CounterVec
	Flushes         *prometheus.CounterVec
	BatchesSent     *prometheus.CounterVec
	SendDuration    prometheus.Histogram
	PayloadBytes    prometheus.Histogram
	InFlightBatches prometheus.Gauge
}

// NewMetrics creates the writer metrics under the given namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "iris"
	}
	return &Metrics{
		EventsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "newrelic_writer",
			Name:      "events_accepted_total",
			Help:      "Total number of log events accepted into the buffer",
		}),

		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "newrelic_writer",
				Name:      "events_dropped_total",
				Help:      "Total number of log events dropped before delivery",
			},
			[]string{"reason"},
		),

		Flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "newrelic_writer",
				Name:      "flushes_total",
				Help:      "Total number of buffer flushes by trigger",
			},
			[]string{"trigger"},
		),

		BatchesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "newrelic_writer",
				Name:      "batches_total",
				Help:      "Total number of batches sent by outcome",
			},
			[]string{"status"},
		),

		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "newrelic_writer",
			Name:      "send_duration_seconds",
			Help:      "Duration of batch delivery attempts in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		PayloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "newrelic_writer",
			Name:      "payload_bytes",
			Help:      "Compressed batch payload size in bytes",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}),

		InFlightBatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "newrelic_writer",
			Name:      "inflight_batches",
			Help:      "Number of batches currently being delivered",
		}),
	}
}

// Register registers all metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.EventsAccepted,
		m.EventsDropped,
		m.Flushes,
		m.BatchesSent,
		m.SendDuration,
		m.PayloadBytes,
		m.InFlightBatches,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) eventAccepted() {
	if m != nil {
		m.EventsAccepted.Inc()
	}
}

func (m *Metrics) eventsDropped(reason string, n int) {
	if m != nil && n > 0 {
		m.EventsDropped.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) flushed(trigger string) {
	if m != nil {
		m.Flushes.WithLabelValues(trigger).Inc()
	}
}

func (m *Metrics) sendStarted() {
	if m != nil {
		m.InFlightBatches.Inc()
	}
}

func (m *Metrics) sendFinished(status string, size int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.InFlightBatches.Dec()
	m.BatchesSent.WithLabelValues(status).Inc()
	m.SendDuration.Observe(elapsed.Seconds())
	if size > 0 {
		m.PayloadBytes.Observe(float64(size))
	}
}
