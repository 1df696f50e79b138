package cmd

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/CraigKelly/horseshoe/sampler"
)

// monitor exposes sampler progress as Prometheus metrics over HTTP. It is a
// sampler.Observer; the metric types are safe for concurrent use.
type monitor struct {
	reg     *prometheus.Registry
	router  chi.Router
	server  *http.Server
	stopped chan struct{}
	log     zerolog.Logger

	iterations  *prometheus.CounterVec
	divergences *prometheus.CounterVec
	stepSize    *prometheus.GaugeVec
	treeDepth   prometheus.Histogram
}

func newMonitor(log zerolog.Logger) *monitor {
	m := &monitor{
		reg: prometheus.NewRegistry(),
		log: log,

		iterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "horseshoe",
				Subsystem: "sampler",
				Name:      "iterations_total",
				Help:      "Completed sampler iterations",
			},
			[]string{"chain", "phase"},
		),
		divergences: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "horseshoe",
				Subsystem: "sampler",
				Name:      "divergences_total",
				Help:      "Divergent transitions after tuning",
			},
			[]string{"chain"},
		),
		stepSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "horseshoe",
				Subsystem: "sampler",
				Name:      "step_size",
				Help:      "Current leapfrog step size",
			},
			[]string{"chain"},
		),
		treeDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "horseshoe",
				Subsystem: "sampler",
				Name:      "tree_depth",
				Help:      "Trajectory tree depth per iteration",
				Buckets:   prometheus.LinearBuckets(0, 1, 11),
			},
		),
	}

	m.reg.MustRegister(m.iterations, m.divergences, m.stepSize, m.treeDepth)

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/metrics", http.StatusTemporaryRedirect)
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	m.router = r

	return m
}

// Observe implements sampler.Observer
func (m *monitor) Observe(chain int, it sampler.Iteration) {
	c := strconv.Itoa(chain)
	m.iterations.WithLabelValues(c, it.Phase.String()).Inc()
	m.stepSize.WithLabelValues(c).Set(it.Stats.StepSize)
	m.treeDepth.Observe(float64(it.Stats.TreeDepth))
	if it.Phase == sampler.Draw && it.Stats.Diverging {
		m.divergences.WithLabelValues(c).Inc()
	}
}

// Start serves the metrics on addr in the background
func (m *monitor) Start(addr string) error {
	if m.server != nil {
		return errors.Errorf("BUG: You may only start the process monitor once")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "Could not listen on %s", addr)
	}

	m.server = &http.Server{Handler: m.router}
	m.stopped = make(chan struct{})

	go func() {
		defer close(m.stopped)
		if err := m.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.log.Error().Err(err).Msg("Monitor stopped unexpectedly")
		}
	}()

	m.log.Info().Str("addr", ln.Addr().String()).Msg("Metrics available at /metrics")
	return nil
}

// Stop shuts the server down, waiting a short while for it to finish
func (m *monitor) Stop() {
	if m.server == nil {
		return
	}

	m.server.Close()

	select {
	case <-m.stopped:
		m.log.Debug().Msg("Monitor stopped")
	case <-time.After(2 * time.Second):
		m.log.Warn().Msg("Monitor would NOT stop: just continuing on")
	}
}
