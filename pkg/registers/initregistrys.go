package registers

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/agent-uploader/pkg/uploader"
)

// AgentImpl 实现 registers.Agent 接口，数据源挂载到同一个 Uploader 上
type AgentImpl struct {
	uploader *uploader.Uploader
	sources  []Source
	log      *zap.Logger
	mu       sync.Mutex
}

// NewAgent 创建上报 Agent
func NewAgent(u *uploader.Uploader, log *zap.Logger) *AgentImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &AgentImpl{uploader: u, log: log}
}

// Register 初始化并注册数据源，初始化失败的数据源不会被轮询
func (a *AgentImpl) Register(src Source, buffering bool) error {
	if err := src.Init(); err != nil {
		return fmt.Errorf("source %s init failed: %w", src.Name(), err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources = append(a.sources, src)
	a.uploader.AddDataSource(src, buffering)
	a.log.Debug("source initialized successfully", zap.String("name", src.Name()), zap.Bool("buffering", buffering))
	return nil
}

// Sources 返回已注册数据源（副本）
func (a *AgentImpl) Sources() []Source {
	a.mu.Lock()
	defer a.mu.Unlock()
	copied := make([]Source, len(a.sources))
	copy(copied, a.sources)
	return copied
}

// Start 启动上报调度（后台 goroutine）
func (a *AgentImpl) Start(ctx context.Context) error {
	a.log.Debug("upload agent started", zap.Int("registered-sources-count", len(a.Sources())))
	return a.uploader.Start(ctx)
}

// RunOnce polls and uploads once in the calling goroutine.
func (a *AgentImpl) RunOnce(ctx context.Context) uploader.Status {
	return a.uploader.Cycle(ctx)
}

// Shutdown 优雅关闭：先停调度，再关闭所有数据源
func (a *AgentImpl) Shutdown(ctx context.Context) error {
	a.log.Info("starting to shutdown upload agent")
	err := a.uploader.Shutdown(ctx)
	if closeErr := a.CloseAll(); err == nil {
		err = closeErr
	}
	return err
}

// CloseAll 批量关闭数据源，返回最后一个错误
func (a *AgentImpl) CloseAll() error {
	var lastErr error
	for _, src := range a.Sources() {
		if err := src.Close(); err != nil {
			a.log.Error("failed to close source", zap.String("name", src.Name()), zap.Error(err))
			lastErr = err // 不阻断整体关闭
		} else {
			a.log.Debug("source closed successfully", zap.String("name", src.Name()))
		}
	}
	return lastErr
}

var _ Agent = (*AgentImpl)(nil)
