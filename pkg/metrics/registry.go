package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registers 通过接口隔离 Prometheus 的默认实现，便于单测替换
type Registers interface {
	prometheus.Registerer
	Register(collector prometheus.Collector) error
}

// promRegistry 包裹官方的 *prometheus.Registry
type promRegistry struct {
	registry *prometheus.Registry
}

// NewPromRegistry 创建 Prometheus 指标注册器
func NewPromRegistry(registry *prometheus.Registry) Registers {
	return &promRegistry{registry: registry}
}

// MustRegister panics on duplicate registration, like prometheus.MustRegister.
func (p *promRegistry) MustRegister(collectors ...prometheus.Collector) {
	for _, c := range collectors {
		if err := p.registry.Register(c); err != nil {
			panic(err)
		}
	}
}

func (p *promRegistry) Unregister(collector prometheus.Collector) bool {
	return p.registry.Unregister(collector)
}

func (p *promRegistry) Register(collector prometheus.Collector) error {
	return p.registry.Register(collector)
}

// MetricFactory 指标工厂，统一创建并注册指标
type MetricFactory struct {
	reg Registers
}

// NewMetricFactory 创建指标工厂
func NewMetricFactory(reg Registers) *MetricFactory {
	return &MetricFactory{reg: reg}
}

// NewTestFactory returns a factory over a fresh registry, for tests and for
// the one-shot command which never serves /metrics.
func NewTestFactory() (*MetricFactory, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewMetricFactory(NewPromRegistry(reg)), reg
}
