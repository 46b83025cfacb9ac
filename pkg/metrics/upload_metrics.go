package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agent-uploader/pkg/monitor"
)

// NewUploadMetrics 创建上报链路相关指标
//
//	uploader_attempts_total{status}    每次上报尝试的分类结果
//	uploader_failed_uploads            自上次成功以来的失败次数
//	uploader_payload_bytes             压缩后负载大小分布
//	uploader_discarded_bytes_total     超限被丢弃的负载字节数
//	uploader_commands_relayed_total    转发给主进程的命令数
//	uploader_cycle_duration_seconds    采样+上报一个周期的耗时
func (m *MetricFactory) NewUploadMetrics() monitor.UploadMetrics {
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uploader_attempts_total",
		Help: "Upload attempts by classified outcome",
	}, []string{"status"})
	failed := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "uploader_failed_uploads",
		Help: "Failed upload attempts since the last successful upload",
	})
	payload := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "uploader_payload_bytes",
		Help:    "Compressed payload size per attempt",
		Buckets: prometheus.ExponentialBuckets(256, 4, 9), // 256B ~ 16MB
	})
	discarded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uploader_discarded_bytes_total",
		Help: "Compressed bytes dropped because the buffer exceeded the size limit",
	})
	commands := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uploader_commands_relayed_total",
		Help: "Commands relayed from collector responses to the host command queue",
	})
	cycle := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "uploader_cycle_duration_seconds",
		Help:    "Duration of one poll and upload cycle",
		Buckets: prometheus.DefBuckets,
	})
	m.reg.MustRegister(attempts, failed, payload, discarded, commands, cycle)

	return monitor.UploadMetrics{
		Attempts:       attempts,
		FailedUploads:  failed,
		PayloadBytes:   payload,
		DiscardedBytes: discarded,
		Commands:       commands,
		CycleDuration:  cycle,
	}
}
