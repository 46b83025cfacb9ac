package agent

import (
	"github.com/spf13/cobra"
)

func initUploadFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	p := "upload."

	f.Duration(p+"interval", defaultCfg.Upload.Interval, "-> Upload interval | 上报周期")
	f.String(p+"url", defaultCfg.Upload.URL, "-> Collector base URL, payloads go to <url>/rx.php | 服务端基础地址")
	f.Int(p+"max_size_kb", defaultCfg.Upload.MaxSizeKB, "-> Compressed buffer ceiling (KB), larger buffers are discarded | 压缩后缓冲区上限(KB)")
	f.Duration(p+"timeout", defaultCfg.Upload.Timeout, "-> HTTP request timeout | 请求超时")
	f.String(p+"username", defaultCfg.Upload.Username, "-> Basic auth username | Basic认证用户名")
	f.String(p+"password", defaultCfg.Upload.Password, "-> Basic auth password | Basic认证密码")
	f.Bool(p+"suppress_repeated_errors", defaultCfg.Upload.SuppressRepeatedErrors, "-> Log repeated identical upload errors once | 重复错误只记录一次")
	f.String(p+"compression", defaultCfg.Upload.Compression, "-> Payload compression [bz2,gzip,zstd,lz4] | 压缩算法")
}
