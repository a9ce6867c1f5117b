package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the authorization server.
type Metrics struct {
	CodesIssued       prometheus.Counter
	CodeResponses     *prometheus.CounterVec
	TokensIssued      *prometheus.CounterVec
	TokenIssueLatency *prometheus.HistogramVec
	Invalidations     *prometheus.CounterVec
	RateLimitHits     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CodesIssued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ohmage_oauth_codes_issued_total",
				Help: "Total number of authorization codes issued.",
			},
		),
		CodeResponses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ohmage_oauth_code_responses_total",
				Help: "Total number of user responses to authorization codes.",
			},
			[]string{"outcome"},
		),
		TokensIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ohmage_oauth_tokens_issued_total",
				Help: "Total number of token requests by grant and result.",
			},
			[]string{"grant_type", "result"},
		),
		TokenIssueLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ohmage_oauth_token_issue_latency_seconds",
				Help:    "Latency of token requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"grant_type"},
		),
		Invalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ohmage_oauth_invalidations_total",
				Help: "Total number of token and code invalidations.",
			},
			[]string{"kind"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ohmage_oauth_rate_limit_hits_total",
				Help: "Total number of requests rejected by the rate limiter.",
			},
			[]string{"route"},
		),
	}
}

// RecordCodeIssued records a new authorization code.
func (m *Metrics) RecordCodeIssued() {
	m.CodesIssued.Inc()
}

// RecordCodeResponse records a user response; outcome is granted, denied or replayed.
func (m *Metrics) RecordCodeResponse(outcome string) {
	m.CodeResponses.WithLabelValues(outcome).Inc()
}

// RecordTokenIssue records a token request.
func (m *Metrics) RecordTokenIssue(grantType, result string, duration time.Duration) {
	m.TokensIssued.WithLabelValues(grantType, result).Inc()
	m.TokenIssueLatency.WithLabelValues(grantType).Observe(duration.Seconds())
}

// RecordInvalidation records an invalidation; kind is token or code.
func (m *Metrics) RecordInvalidation(kind string) {
	m.Invalidations.WithLabelValues(kind).Inc()
}

// RecordRateLimitHit records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimitHit(route string) {
	m.RateLimitHits.WithLabelValues(route).Inc()
}
