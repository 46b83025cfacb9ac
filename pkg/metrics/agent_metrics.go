package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agent-uploader/pkg/monitor"
)

// NewAgentCollectErrorsTotal 数据源采样错误累计次数，按 collector 区分
func (m *MetricFactory) NewAgentCollectErrorsTotal() *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_collect_errors_total",
		Help: "Total sampling errors per data source",
	}, []string{"collector"})
	m.reg.MustRegister(c)
	return c
}

// NewAgentCollectDurationSeconds 数据源单次采样耗时分布
func (m *MetricFactory) NewAgentCollectDurationSeconds() *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_collect_duration_seconds",
		Help:    "Sampling duration per data source",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms ~ 2s
	}, []string{"collector"})
	m.reg.MustRegister(h)
	return h
}

// NewCollectorMetrics builds the shared handles every data source reports into.
func (m *MetricFactory) NewCollectorMetrics() monitor.CollectorMetrics {
	return monitor.CollectorMetrics{
		Errors:   m.NewAgentCollectErrorsTotal(),
		Duration: m.NewAgentCollectDurationSeconds(),
	}
}
