package registers

import (
	"context"

	"github.com/agent-uploader/pkg/uploader"
)

// Agent 顶层上报接口（封装数据源注册与上报调度的生命周期）
// 新增数据源仅需实现 Source 接口，通过 Agent 注册即可
type Agent interface {
	Register(src Source, buffering bool) error // 注册数据源
	Start(ctx context.Context) error           // 启动上报调度
	Shutdown(ctx context.Context) error        // 优雅停止
}

// Source 数据源核心接口（所有内置数据源必须实现）
type Source interface {
	uploader.DataSource
	Name() string // 数据源名称（唯一标识）
	Init() error  // 初始化（预检查资源）
	Close() error // 关闭（释放资源）
}
