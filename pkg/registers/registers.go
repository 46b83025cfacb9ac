package registers

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/agent-uploader/pkg/collector"
	"github.com/agent-uploader/pkg/command"
	"github.com/agent-uploader/pkg/config"
	"github.com/agent-uploader/pkg/metrics"
	"github.com/agent-uploader/pkg/monitor"
	"github.com/agent-uploader/pkg/uploader"
)

// Module 数据源注册项，Name 与数据源上报的 key 一致
type Module struct {
	Enabled   bool
	Name      string
	Buffering bool
	NewFunc   func() Source
}

// Runtime 组装完成的运行时依赖
type Runtime struct {
	Registry *prometheus.Registry      // 暴露 /metrics
	Agent    *AgentImpl                // 数据源 + 上报调度
	Uploader *uploader.Uploader        // /health 读取状态
	Commands *command.Queue            // 服务端下发命令
	Events   *collector.EventsCollector // 未启用时为 nil
}

// InitPromRegistry 构建 Prometheus 注册器、指标工厂、Uploader，并按配置注册数据源。
// 调度不会在这里启动，由调用方决定 Start 还是 RunOnce。
func InitPromRegistry(enableProcess bool, cfg *config.Config, log *zap.Logger, opts ...uploader.Option) (*Runtime, error) {
	if log == nil {
		log = zap.NewNop()
	}
	// 初始化Prometheus指标注册器（禁用Go指标）
	promReg := prometheus.NewRegistry()
	if enableProcess {
		promReg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}
	metricFactory := metrics.NewMetricFactory(metrics.NewPromRegistry(promReg))

	commands := command.NewQueue()
	up, err := uploader.New(cfg.Upload, commands, metricFactory.NewUploadMetrics(), log.Named("upload"), opts...)
	if err != nil {
		return nil, fmt.Errorf("create uploader: %w", err)
	}

	rt := &Runtime{
		Registry: promReg,
		Agent:    NewAgent(up, log.Named("agent")),
		Uploader: up,
		Commands: commands,
	}
	if _, err := RegisterSources(rt, cfg, metricFactory.NewCollectorMetrics(), log); err != nil {
		return nil, err
	}
	return rt, nil
}

// RegisterSources 数据源注册统一入口：新增数据源只需在 modules 列表添加一条。
// 初始化失败的数据源被跳过并告警，Uploader 自身的 failed_uploads 始终上报。
func RegisterSources(rt *Runtime, cfg *config.Config, m monitor.CollectorMetrics, log *zap.Logger) ([]Source, error) {
	src := cfg.Monitor.Sources
	modules := []Module{
		{
			Enabled:   src.Metadata.Enable,
			Name:      collector.MetaKey,
			Buffering: src.Metadata.Buffering,
			NewFunc: func() Source {
				return collector.NewMetadataCollector(src.Metadata, m, log)
			},
		},
		{
			Enabled:   src.CPU.Enable,
			Name:      collector.CPUKey,
			Buffering: src.CPU.Buffering,
			NewFunc: func() Source {
				return collector.NewCPUCollector(src.CPU, m, log)
			},
		},
		{
			Enabled:   src.Memory.Enable,
			Name:      collector.MemoryKey,
			Buffering: src.Memory.Buffering,
			NewFunc: func() Source {
				return collector.NewMemoryCollector(m, log)
			},
		},
		{
			Enabled:   src.Events.Enable,
			Name:      collector.EventsKey,
			Buffering: src.Events.Buffering,
			NewFunc: func() Source {
				return collector.NewEventsCollector(m, log, nil)
			},
		},
	}

	var registered []Source
	for _, mod := range modules {
		if !mod.Enabled {
			log.Debug("source disabled", zap.String("name", mod.Name))
			continue
		}
		s := mod.NewFunc()
		if err := rt.Agent.Register(s, mod.Buffering); err != nil {
			log.Warn("source skipped", zap.String("name", s.Name()), zap.Error(err))
			continue
		}
		if events, ok := s.(*collector.EventsCollector); ok {
			rt.Events = events
		}
		registered = append(registered, s)
	}

	names := make([]string, 0, len(registered))
	for _, s := range registered {
		names = append(names, s.Name())
	}
	log.Debug("all enabled sources registered", zap.Strings("enabled_sources", names))
	return registered, nil
}
