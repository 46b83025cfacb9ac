package agent

import (
	"github.com/spf13/cobra"
)

func initMonitorFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	s := defaultCfg.Monitor.Sources
	p := "monitor.sources."

	f.Bool(p+"metadata.enable", s.Metadata.Enable, "启用元数据（时间戳/stratum/主机名）")
	f.Bool(p+"metadata.buffering", s.Metadata.Buffering, "元数据追加模式")
	f.Duration(p+"metadata.stratum_ttl", s.Metadata.StratumTTL, "stratum 缓存时间")

	f.Bool(p+"cpu.enable", s.CPU.Enable, "启用 CPU")
	f.Bool(p+"cpu.buffering", s.CPU.Buffering, "CPU 追加模式")
	f.Bool(p+"cpu.per_core", s.CPU.PerCore, "按核心采集")

	f.Bool(p+"memory.enable", s.Memory.Enable, "启用内存")
	f.Bool(p+"memory.buffering", s.Memory.Buffering, "内存追加模式")

	f.Bool(p+"events.enable", s.Events.Enable, "启用事件")
	f.Bool(p+"events.buffering", s.Events.Buffering, "事件追加模式")
}
