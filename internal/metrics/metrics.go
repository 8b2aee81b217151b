// Package metrics exposes game counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ayusman/nosegoes/internal/game"
)

const namespace = "nosegoes"

// Metrics holds the collectors and the registry they are registered on.
type Metrics struct {
	registry *prometheus.Registry

	rounds     prometheus.Counter
	winners    prometheus.Counter
	touches    *prometheus.CounterVec
	advisories prometheus.Counter
	state      *prometheus.GaugeVec
	players    prometheus.Gauge
	passes     *prometheus.HistogramVec
}

// New creates a Metrics with its own registry, including Go runtime
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_started_total",
			Help:      "Rounds that entered the countdown.",
		}),
		winners: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "winners_total",
			Help:      "Rounds that produced a winner.",
		}),
		touches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "touch_signals_total",
			Help:      "Nose touch signals by outcome.",
		}, []string{"result"}),
		advisories: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advisories_total",
			Help:      "Advisory messages shown to players.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
		players: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players",
			Help:      "Faces in the last processed frame.",
		}),
		passes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_pass_seconds",
			Help:      "Duration of one frame read plus landmark detection.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.rounds, m.winners, m.touches, m.advisories, m.state, m.players, m.passes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.setState(game.StateWaiting)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe is a game.Listener that updates counters from session events.
func (m *Metrics) Observe(e game.Event) {
	switch e.Kind {
	case game.EventState:
		m.setState(e.State)
		if e.State == game.StateCountdown {
			m.rounds.Inc()
			m.players.Set(0)
		}
	case game.EventPlayers:
		m.players.Set(float64(len(e.Players)))
		if e.Touches > 0 {
			m.touches.WithLabelValues("seen").Add(float64(e.Touches))
		}
	case game.EventWinner:
		m.winners.Inc()
		m.touches.WithLabelValues("won").Inc()
	case game.EventAdvisory:
		m.advisories.Inc()
	}
}

// ObservePass records one detection pass.
func (m *Metrics) ObservePass(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.passes.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) setState(current game.State) {
	for _, s := range []game.State{game.StateWaiting, game.StateCountdown, game.StatePlaying, game.StateWinner} {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(string(s)).Set(v)
	}
}
