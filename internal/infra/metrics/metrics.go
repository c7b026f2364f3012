// Package metrics exports pipeline counters in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voice-code/internal/domain"
)

const namespace = "voice_code"

// Prometheus implements application.Metrics on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	sessionsStarted     prometheus.Counter
	sessionsStopped     prometheus.Counter
	utterancesFinalized prometheus.Counter
	utterancesDropped   prometheus.Counter
	requestsIssued      prometheus.Counter
	resultsDiscarded    prometheus.Counter
	requestsFailed      *prometheus.CounterVec
	codeInserted        prometheus.Counter
	codeRejected        prometheus.Counter
}

func New() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Listening sessions started.",
		}),
		sessionsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_stopped_total",
			Help:      "Listening sessions stopped.",
		}),
		utterancesFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_finalized_total",
			Help:      "Non-blank final utterances produced by the recognizer.",
		}),
		utterancesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_dropped_total",
			Help:      "Utterances dropped because a request was outstanding.",
		}),
		requestsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Code generation requests issued.",
		}),
		resultsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_results_discarded_total",
			Help:      "Generation results that arrived for a stopped or replaced session.",
		}),
		requestsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Failed requests by kind.",
		}, []string{"kind"}),
		codeInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_inserted_total",
			Help:      "Snippets inserted after confirmation.",
		}),
		codeRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_rejected_total",
			Help:      "Snippets the user declined.",
		}),
	}

	p.registry.MustRegister(
		p.sessionsStarted,
		p.sessionsStopped,
		p.utterancesFinalized,
		p.utterancesDropped,
		p.requestsIssued,
		p.resultsDiscarded,
		p.requestsFailed,
		p.codeInserted,
		p.codeRejected,
	)
	return p
}

// WatchSession exports the live session state at scrape time.
func (p *Prometheus) WatchSession(status func() domain.Session) {
	p.registry.MustRegister(newSessionCollector(status))
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) SessionStarted()           { p.sessionsStarted.Inc() }
func (p *Prometheus) SessionStopped()           { p.sessionsStopped.Inc() }
func (p *Prometheus) UtteranceFinalized()       { p.utterancesFinalized.Inc() }
func (p *Prometheus) UtteranceDropped()         { p.utterancesDropped.Inc() }
func (p *Prometheus) RequestIssued()            { p.requestsIssued.Inc() }
func (p *Prometheus) ResultDiscarded()          { p.resultsDiscarded.Inc() }
func (p *Prometheus) RequestFailed(kind string) { p.requestsFailed.WithLabelValues(kind).Inc() }
func (p *Prometheus) CodeInserted()             { p.codeInserted.Inc() }
func (p *Prometheus) CodeRejected()             { p.codeRejected.Inc() }
