// Package metrics exposes lifecycle counters over Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ticket lifecycle counters. A nil *Metrics is valid and
// records nothing, so tests can pass nil.
type Metrics struct {
	registry *prometheus.Registry

	opened         prometheus.Counter
	closed         *prometheus.CounterVec
	autoClosed     prometheus.Counter
	deleted        prometheus.Counter
	sweepErrors    prometheus.Counter
	promptTimeouts prometheus.Counter
}

// New creates the counters on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		opened: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticketd_tickets_opened_total",
			Help: "Tickets successfully opened.",
		}),
		closed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketd_tickets_closed_total",
			Help: "Tickets transitioned to closing, by actor kind.",
		}, []string{"actor"}),
		autoClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticketd_tickets_autoclosed_total",
			Help: "Tickets auto-closed by the inactivity sweeper.",
		}),
		deleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticketd_tickets_deleted_total",
			Help: "Ticket channels deleted after the grace period.",
		}),
		sweepErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticketd_sweep_errors_total",
			Help: "Per-channel failures during inactivity sweeps.",
		}),
		promptTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticketd_prompt_timeouts_total",
			Help: "Reason prompts that expired unanswered.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncOpened() {
	if m != nil {
		m.opened.Inc()
	}
}

func (m *Metrics) IncClosed(actor string) {
	if m != nil {
		m.closed.WithLabelValues(actor).Inc()
	}
}

func (m *Metrics) IncAutoClosed() {
	if m != nil {
		m.autoClosed.Inc()
	}
}

func (m *Metrics) IncDeleted() {
	if m != nil {
		m.deleted.Inc()
	}
}

func (m *Metrics) IncSweepError() {
	if m != nil {
		m.sweepErrors.Inc()
	}
}

func (m *Metrics) IncPromptTimeout() {
	if m != nil {
		m.promptTimeouts.Inc()
	}
}
