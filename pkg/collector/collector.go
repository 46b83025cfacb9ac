// Package collector provides the built-in data sources polled by the
// uploader. Every source handles its own sampling errors: it logs them,
// counts them in agent_collect_errors_total and reports no sample.
package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agent-uploader/pkg/monitor"
)

// sampleTimeout bounds a single host query made while sampling.
const sampleTimeout = 2 * time.Second

type base struct {
	name    string
	metrics monitor.CollectorMetrics
	log     *zap.Logger
}

func newBase(name string, m monitor.CollectorMetrics, log *zap.Logger) base {
	if log == nil {
		log = zap.NewNop()
	}
	return base{name: name, metrics: m, log: log.Named(name)}
}

// Name 返回数据源名称
func (b *base) Name() string { return b.name }

// Close 默认无资源可释放
func (b *base) Close() error { return nil }

// observe records the sampling duration started at start.
func (b *base) observe(start time.Time) {
	if b.metrics.Duration != nil {
		b.metrics.Duration.WithLabelValues(b.name).Observe(time.Since(start).Seconds())
	}
}

// fail logs a sampling error and counts it.
func (b *base) fail(msg string, err error) {
	b.log.Warn(msg, zap.Error(err))
	if b.metrics.Errors != nil {
		b.metrics.Errors.WithLabelValues(b.name).Inc()
	}
}

func sampleContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), sampleTimeout)
}
