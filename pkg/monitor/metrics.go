package monitor

import "github.com/prometheus/client_golang/prometheus"

// -------------------------- 上报链路指标结构体 --------------------------
type UploadMetrics struct {
	Attempts       *prometheus.CounterVec // 按结果分类的上报次数
	FailedUploads  prometheus.Gauge       // 自上次成功以来的失败次数
	PayloadBytes   prometheus.Histogram   // 压缩后负载大小
	DiscardedBytes prometheus.Counter     // 超限丢弃的字节数
	Commands       prometheus.Counter     // 转发的命令数
	CycleDuration  prometheus.Histogram   // 单周期耗时
}

// -------------------------- 数据源指标结构体 --------------------------
type CollectorMetrics struct {
	Errors   *prometheus.CounterVec   // 采样错误（累计）
	Duration *prometheus.HistogramVec // 采样耗时
}
