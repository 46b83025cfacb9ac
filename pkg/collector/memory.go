package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/agent-uploader/pkg/monitor"
	"github.com/agent-uploader/pkg/uploader"
)

// MemoryKey is the type-key of memory samples.
const MemoryKey = "memory"

// MemoryCollector 内存使用数据源
type MemoryCollector struct {
	base
	virtual func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

func NewMemoryCollector(m monitor.CollectorMetrics, log *zap.Logger) *MemoryCollector {
	return &MemoryCollector{
		base:    newBase(MemoryKey, m, log),
		virtual: mem.VirtualMemoryWithContext,
	}
}

func (c *MemoryCollector) Init() error {
	if _, err := mem.VirtualMemory(); err != nil {
		return fmt.Errorf("read virtual memory: %w", err)
	}
	return nil
}

func (c *MemoryCollector) Sample() (uploader.Sample, bool) {
	start := time.Now()
	defer c.observe(start)

	ctx, cancel := sampleContext()
	defer cancel()

	vm, err := c.virtual(ctx)
	if err != nil {
		c.fail("get virtual memory failed", err)
		return uploader.Sample{}, false
	}
	return uploader.Sample{Key: MemoryKey, Value: map[string]any{
		"total":        vm.Total,
		"available":    vm.Available,
		"used":         vm.Used,
		"used_percent": vm.UsedPercent,
	}}, true
}
