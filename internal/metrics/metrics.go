// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector counts the events worth watching on a small file host.
type Collector struct {
	registry *prometheus.Registry

	registrations prometheus.Counter
	logins        *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	rawServes     *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scripthost_registrations_total",
			Help: "Successful account registrations.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scripthost_logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scripthost_uploads_total",
			Help: "Upload attempts by outcome.",
		}, []string{"outcome"}),
		rawServes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scripthost_raw_serves_total",
			Help: "Raw file fetches by outcome.",
		}, []string{"outcome"}),
	}
	c.registry.MustRegister(c.registrations, c.logins, c.uploads, c.rawServes)
	return c
}

// Handler serves the /metrics endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordRegistration() { c.registrations.Inc() }

func (c *Collector) RecordLogin(outcome string) { c.logins.WithLabelValues(outcome).Inc() }

func (c *Collector) RecordUpload(outcome string) { c.uploads.WithLabelValues(outcome).Inc() }

func (c *Collector) RecordRawServe(outcome string) { c.rawServes.WithLabelValues(outcome).Inc() }
