// Package metrics 提供 Prometheus helper，包含 HTTP 与业务指标模板
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Gsaudx/Advision-sub000/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 业务指标
	TradesTotal           *prometheus.CounterVec
	LifecycleEventsTotal  *prometheus.CounterVec
	StrategiesTotal       *prometheus.CounterVec
	OutboxPublishedTotal  prometheus.Counter
	OutboxPendingGauge    prometheus.Gauge
	OperationFailuresTotal *prometheus.CounterVec
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokerage",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "brokerage",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokerage",
			Subsystem: serviceName,
			Name:      "option_trades_total",
			Help:      "Total executed option trades",
		}, []string{"side"}),
		LifecycleEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokerage",
			Subsystem: serviceName,
			Name:      "option_lifecycle_events_total",
			Help:      "Total option lifecycle events",
		}, []string{"event"}),
		StrategiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokerage",
			Subsystem: serviceName,
			Name:      "structured_operations_total",
			Help:      "Total executed structured operations",
		}, []string{"strategy_type"}),
		OutboxPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "brokerage",
			Subsystem: serviceName,
			Name:      "outbox_published_total",
			Help:      "Total outbox events published to Kafka",
		}),
		OutboxPendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "brokerage",
			Subsystem: serviceName,
			Name:      "outbox_pending",
			Help:      "Pending outbox events",
		}),
		OperationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokerage",
			Subsystem: serviceName,
			Name:      "operation_failures_total",
			Help:      "Failed operations by error code",
		}, []string{"code"}),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TradesTotal,
		m.LifecycleEventsTotal,
		m.StrategiesTotal,
		m.OutboxPublishedTotal,
		m.OutboxPendingGauge,
		m.OperationFailuresTotal,
	)

	return m
}

// Handler 返回 Prometheus 指标处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve 启动独立的指标服务
func (m *Metrics) Serve(port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		logger.Info(context.Background(), "metrics server started", "port", port, "path", path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(context.Background(), "metrics server failed", "error", err)
		}
	}()

	return srv
}
