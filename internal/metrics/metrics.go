// Package metrics содержит счётчики Prometheus для операций с балансом и HTTP-запросов.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agency_ledger"

// Metrics хранит зарегистрированные коллекторы. Нулевой указатель допустим: методы ничего не делают.
type Metrics struct {
	gatherer        prometheus.Gatherer
	ledgerOps       *prometheus.CounterVec
	ledgerRetries   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New создаёт и регистрирует коллекторы в собственном реестре.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		gatherer: reg,
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Top-up ledger operations by kind and result.",
		}, []string{"op", "result"}),
		ledgerRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_retries_total",
			Help:      "Ledger operations retried after a concurrent modification.",
		}, []string{"op"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}

	reg.MustRegister(
		m.ledgerOps,
		m.ledgerRetries,
		m.requestDuration,
		collectors.NewGoCollector(),
	)

	return m
}

// LedgerOperation учитывает завершённую операцию с балансом.
func (m *Metrics) LedgerOperation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ledgerOps.WithLabelValues(op, result).Inc()
}

// LedgerRetry учитывает повтор операции после конфликта.
func (m *Metrics) LedgerRetry(op string) {
	if m == nil {
		return
	}
	m.ledgerRetries.WithLabelValues(op).Inc()
}

// ObserveRequest записывает длительность HTTP-запроса.
func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler возвращает обработчик для выдачи метрик.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
