package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты запуска агента (label "result")
const (
	ResultSuccess     = "success"
	ResultNoop        = "noop"
	ResultAppError    = "app_error"
	ResultTimeout     = "timeout"
	ResultLaunchError = "launch_error"
	ResultUnexpected  = "unexpected"
)

type Metrics struct {
	// Traffic: запросы к HTTP API
	HTTPRequests *prometheus.CounterVec

	// Latency: сколько заняла обработка HTTP-запроса целиком
	HTTPDuration *prometheus.HistogramVec

	// Сколько работал агент (organize-notes / execute-claude)
	ExecutionDuration *prometheus.HistogramVec

	// Errors: классификация исходов
	ExecutionTotal *prometheus.CounterVec

	// Saturation: сколько агентов работает прямо сейчас
	ExecutionsInFlight prometheus.Gauge

	// Состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Journal: события, сброшенные из-за переполнения буфера
	JournalDropped prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		HTTPRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "remote_cli_http_requests_total",
			Help: "Total number of HTTP requests by route and status code.",
		}, []string{"route", "method", "code"}),

		HTTPDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remote_cli_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies.",
			Buckets: []float64{.005, .05, .5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"route"}),

		ExecutionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remote_cli_agent_duration_seconds",
			Help:    "Wall-clock time of agent subprocess runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 240, 300},
		}, []string{"action", "result"}),

		ExecutionTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "remote_cli_agent_runs_total",
			Help: "Total number of organize/execute requests by result.",
		}, []string{"action", "result"}), // типы: success, noop, app_error, timeout, launch_error, unexpected

		ExecutionsInFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "remote_cli_agent_in_flight",
			Help: "Number of agent subprocesses currently running.",
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "remote_cli_circuit_breaker_state",
			Help: "Current state of the launch circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),

		JournalDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "remote_cli_journal_dropped_total",
			Help: "Events dropped because the journal buffer was full.",
		}),
	}
}
