package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tubeget/internal/registry"
)

type metrics struct {
	registry *prometheus.Registry

	jobsStarted prometheus.Counter
	jobsFailed  *prometheus.CounterVec
	filesServed prometheus.Counter
	bytesServed prometheus.Counter
}

func newMetrics(reg *registry.Registry) *metrics {
	promReg := prometheus.NewRegistry()
	factory := promauto.With(promReg)

	m := &metrics{
		registry: promReg,
		jobsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tubeget_jobs_started_total",
			Help: "Download jobs submitted on either endpoint, including rejected input.",
		}),
		jobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tubeget_jobs_failed_total",
			Help: "Download jobs that ended with a terminal error.",
		}, []string{"kind"}),
		filesServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tubeget_files_served_total",
			Help: "Staged files successfully delivered and removed.",
		}),
		bytesServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tubeget_bytes_served_total",
			Help: "Total bytes streamed to download clients.",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tubeget_staged_files",
		Help: "Live staged files awaiting retrieval.",
	}, func() float64 {
		return float64(reg.Len())
	})

	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
