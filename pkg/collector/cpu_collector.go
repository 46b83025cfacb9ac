package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	cload "github.com/shirou/gopsutil/v3/load"
	"go.uber.org/zap"

	"github.com/agent-uploader/pkg/config"
	"github.com/agent-uploader/pkg/monitor"
	"github.com/agent-uploader/pkg/uploader"
)

// CPUKey is the type-key of CPU samples.
const CPUKey = "cpu"

// CPUCollector CPU 使用率与系统负载数据源
type CPUCollector struct {
	base
	perCore bool

	percent func(ctx context.Context, interval time.Duration, perCPU bool) ([]float64, error)
	loadAvg func(ctx context.Context) (*cload.AvgStat, error)
}

// NewCPUCollector 创建 CPU 数据源
func NewCPUCollector(cfg config.CPUSourceConfig, m monitor.CollectorMetrics, log *zap.Logger) *CPUCollector {
	return &CPUCollector{
		base:    newBase(CPUKey, m, log),
		perCore: cfg.PerCore,
		percent: cpu.PercentWithContext,
		loadAvg: cload.AvgWithContext,
	}
}

// Init 预检查 CPU 可用性
func (c *CPUCollector) Init() error {
	if _, err := cpu.Counts(false); err != nil {
		return fmt.Errorf("get cpu counts: %w", err)
	}
	return nil
}

// Sample returns usage since the previous call and the load averages. The
// first call measures since the process loaded gopsutil's cpu package.
func (c *CPUCollector) Sample() (uploader.Sample, bool) {
	start := time.Now()
	defer c.observe(start)

	ctx, cancel := sampleContext()
	defer cancel()

	usage, err := c.percent(ctx, 0, c.perCore)
	if err != nil {
		c.fail("get cpu usage failed", err)
		return uploader.Sample{}, false
	}
	if len(usage) == 0 {
		c.fail("get cpu usage failed", fmt.Errorf("no cpu usage reported"))
		return uploader.Sample{}, false
	}

	value := map[string]any{}
	if c.perCore {
		value["usage_percent"] = usage
	} else {
		value["usage_percent"] = usage[0]
	}

	// load is optional, e.g. unavailable on some platforms
	if load, err := c.loadAvg(ctx); err != nil {
		c.fail("get cpu load failed", err)
	} else {
		value["load1"] = load.Load1
		value["load5"] = load.Load5
		value["load15"] = load.Load15
	}

	c.log.Debug("collected cpu sample", zap.Any("value", value))
	return uploader.Sample{Key: CPUKey, Value: value}, true
}
