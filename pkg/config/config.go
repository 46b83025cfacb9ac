package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var valid = validator.New()

// EnvPrefix prefixes every environment override (UPLOADER_UPLOAD_URL -> upload.url).
const EnvPrefix = "UPLOADER"

// Config 全局配置结构体（聚合所有核心模块）
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server" comment:"HTTP服务配置"`
	Upload  UploadConfig  `yaml:"upload" mapstructure:"upload" comment:"上报配置"`
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor" comment:"数据源配置"`
	Log     ZapLogConfig  `yaml:"log" mapstructure:"log" comment:"日志配置"`
}

// ServerConfig serves /metrics and /health. Disabled servers are not validated.
type ServerConfig struct {
	Enable       bool          `yaml:"enable" mapstructure:"enable" env:"SERVER_ENABLE" comment:"是否启用HTTP服务" default:"true"`
	Addr         string        `yaml:"addr" mapstructure:"addr" env:"SERVER_ADDR" validate:"omitempty,hostname_port" comment:"HTTP监听地址（格式：ip:port）"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" env:"SERVER_READ_TIMEOUT" validate:"gte=0" comment:"读取超时时间（如30s）"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" env:"SERVER_WRITE_TIMEOUT" validate:"gte=0" comment:"写入超时时间（如30s）"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" validate:"gte=0" comment:"空闲连接超时时间（如60s）"`
}

// UploadConfig 上报配置（周期、地址、大小上限、超时、认证）
type UploadConfig struct {
	Interval               time.Duration `yaml:"interval" mapstructure:"interval" env:"UPLOAD_INTERVAL" validate:"required,gt=0" comment:"上报周期（如10s）" default:"10s"`
	URL                    string        `yaml:"url" mapstructure:"url" env:"UPLOAD_URL" validate:"required,url" comment:"服务端基础地址，请求发往 <url>/rx.php"`
	MaxSizeKB              int           `yaml:"max_size_kb" mapstructure:"max_size_kb" env:"UPLOAD_MAX_SIZE_KB" validate:"required,gt=0" comment:"压缩后缓冲区上限（KB），超过则丢弃" default:"1024"`
	Timeout                time.Duration `yaml:"timeout" mapstructure:"timeout" env:"UPLOAD_TIMEOUT" validate:"required,gt=0" comment:"HTTP请求超时" default:"30s"`
	Username               string        `yaml:"username" mapstructure:"username" env:"UPLOAD_USERNAME" comment:"Basic认证用户名（可选）"`
	Password               string        `yaml:"password" mapstructure:"password" env:"UPLOAD_PASSWORD" comment:"Basic认证密码（可选）"`
	SuppressRepeatedErrors bool          `yaml:"suppress_repeated_errors" mapstructure:"suppress_repeated_errors" env:"UPLOAD_SUPPRESS_REPEATED_ERRORS" comment:"相同错误连续出现时只记录一次" default:"true"`
	Compression            string        `yaml:"compression" mapstructure:"compression" env:"UPLOAD_COMPRESSION" validate:"required,oneof=bz2 gzip zstd lz4" comment:"压缩算法，需与服务端一致" default:"bz2"`
}

// MaxSizeBytes is the compressed payload ceiling.
func (u *UploadConfig) MaxSizeBytes() int {
	return u.MaxSizeKB * 1024
}

// HasCredentials reports whether basic auth should be attached.
func (u *UploadConfig) HasCredentials() bool {
	return u.Username != "" || u.Password != ""
}

// MonitorConfig 数据源全局配置
type MonitorConfig struct {
	Sources SourcesConfig `yaml:"sources" mapstructure:"sources" comment:"各类数据源配置"`
}

// SourcesConfig lists the built-in data sources. Buffering=true appends each
// sample, false keeps only the latest one.
type SourcesConfig struct {
	Metadata MetadataSourceConfig `yaml:"metadata" mapstructure:"metadata"`
	CPU      CPUSourceConfig      `yaml:"cpu" mapstructure:"cpu"`
	Memory   MemorySourceConfig   `yaml:"memory" mapstructure:"memory"`
	Events   EventsSourceConfig   `yaml:"events" mapstructure:"events"`
}

// MetadataSourceConfig 元数据（时间戳、NTP stratum、主机名）
type MetadataSourceConfig struct {
	Enable     bool          `yaml:"enable" mapstructure:"enable" env:"SOURCES_METADATA_ENABLE" default:"true"`
	Buffering  bool          `yaml:"buffering" mapstructure:"buffering" env:"SOURCES_METADATA_BUFFERING" default:"false"`
	StratumTTL time.Duration `yaml:"stratum_ttl" mapstructure:"stratum_ttl" env:"SOURCES_METADATA_STRATUM_TTL" validate:"gte=0" comment:"stratum缓存时间" default:"5m"`
}

// CPUSourceConfig CPU 使用率与负载
type CPUSourceConfig struct {
	Enable    bool `yaml:"enable" mapstructure:"enable" env:"SOURCES_CPU_ENABLE" default:"true"`
	Buffering bool `yaml:"buffering" mapstructure:"buffering" env:"SOURCES_CPU_BUFFERING" default:"false"`
	PerCore   bool `yaml:"per_core" mapstructure:"per_core" env:"SOURCES_CPU_PER_CORE" comment:"是否按每核心采集" default:"false"`
}

// MemorySourceConfig 内存使用
type MemorySourceConfig struct {
	Enable    bool `yaml:"enable" mapstructure:"enable" env:"SOURCES_MEMORY_ENABLE" default:"true"`
	Buffering bool `yaml:"buffering" mapstructure:"buffering" env:"SOURCES_MEMORY_BUFFERING" default:"false"`
}

// EventsSourceConfig 进程内事件（例如收到的服务端命令）
type EventsSourceConfig struct {
	Enable    bool `yaml:"enable" mapstructure:"enable" env:"SOURCES_EVENTS_ENABLE" default:"true"`
	Buffering bool `yaml:"buffering" mapstructure:"buffering" env:"SOURCES_EVENTS_BUFFERING" default:"true"`
}

// ZapLogConfig 日志配置
type ZapLogConfig struct {
	Level     string `yaml:"level" mapstructure:"level" env:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal" comment:"日志级别" default:"info"`
	Format    string `yaml:"format" mapstructure:"format" env:"LOG_FORMAT" validate:"required,oneof=json console" comment:"日志格式（json/console）" default:"json"`
	Path      string `yaml:"path" mapstructure:"path" env:"LOG_PATH" validate:"required" comment:"日志存储路径" default:"./logs"`
	MaxSize   int    `yaml:"max_size" mapstructure:"max_size" env:"LOG_MAX_SIZE" validate:"required,gt=0" comment:"单个日志文件最大大小（MB）" default:"100"`
	MaxBackup int    `yaml:"max_backup" mapstructure:"max_backup" env:"LOG_MAX_BACKUP" validate:"gte=0" comment:"日志文件最大备份数" default:"30"`
	MaxAge    int    `yaml:"max_age" mapstructure:"max_age" env:"LOG_MAX_AGE" validate:"gte=0" comment:"日志文件最大保存天数" default:"7"`
}

// NewDefaultConfig 创建默认配置（所有字段兜底，URL 除外，必须由用户提供）
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Enable:       true,
			Addr:         "0.0.0.0:9091",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Upload: UploadConfig{
			Interval:               10 * time.Second,
			MaxSizeKB:              1024,
			Timeout:                30 * time.Second,
			SuppressRepeatedErrors: true,
			Compression:            "bz2",
		},
		Monitor: MonitorConfig{
			Sources: SourcesConfig{
				Metadata: MetadataSourceConfig{Enable: true, StratumTTL: 5 * time.Minute},
				CPU:      CPUSourceConfig{Enable: true},
				Memory:   MemorySourceConfig{Enable: true},
				Events:   EventsSourceConfig{Enable: true, Buffering: true},
			},
		},
		Log: ZapLogConfig{
			Level:     "info",
			Format:    "json",
			Path:      "./logs",
			MaxSize:   100,
			MaxBackup: 30,
			MaxAge:    7,
		},
	}
}

// LoadConfigWithCli 支持 time.Duration，(Flags + YAML + ENV)
func LoadConfigWithCli(cmd *cobra.Command) (*Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	return Load(configFile, cmd)
}

// Load merges defaults, the optional yaml file, UPLOADER_* environment
// variables and, when cmd is non-nil, its changed flags.
func Load(configFile string, cmd *cobra.Command) (*Config, error) {
	cfg := NewDefaultConfig()
	v := viper.New()

	// 1. 绑定 Cobra Flags → Viper
	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	// 2. 解析配置文件 (--config)
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	// 3. 绑定环境变量 UPLOADER_UPLOAD_URL -> upload.url
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	// 4. 解码反序列化到结构体（支持 time.Duration）
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// 5. 校验配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// bindEnvKeys makes viper aware of keys that only exist as environment
// variables; AllSettings skips keys viper has never seen.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.enable", "server.addr", "server.read_timeout", "server.write_timeout", "server.idle_timeout",
		"upload.interval", "upload.url", "upload.max_size_kb", "upload.timeout",
		"upload.username", "upload.password", "upload.suppress_repeated_errors", "upload.compression",
		"monitor.sources.metadata.enable", "monitor.sources.metadata.buffering", "monitor.sources.metadata.stratum_ttl",
		"monitor.sources.cpu.enable", "monitor.sources.cpu.buffering", "monitor.sources.cpu.per_core",
		"monitor.sources.memory.enable", "monitor.sources.memory.buffering",
		"monitor.sources.events.enable", "monitor.sources.events.buffering",
		"log.level", "log.format", "log.path", "log.max_size", "log.max_backup", "log.max_age",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate 配置校验
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	// 1, 校验Server服务配置
	if err := c.Server.Validate(); err != nil {
		return err
	}
	// 2, 校验上报配置
	if err := c.Upload.Validate(); err != nil {
		return err
	}
	// 3, 校验日志配置
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}
