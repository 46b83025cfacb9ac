package collector

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/patrickmn/go-cache"
	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/agent-uploader/pkg/config"
	"github.com/agent-uploader/pkg/monitor"
	"github.com/agent-uploader/pkg/uploader"
)

const (
	// MetaKey is the type-key of metadata samples.
	MetaKey = "meta"

	StratumKey         = "stratum"
	ClientTimestampKey = "client_timestamp"
	HostnameKey        = "hostname"
)

// StratumFunc queries the local NTP daemon for the current stratum.
type StratumFunc func(ctx context.Context) (int, error)

// MetadataCollector 元数据数据源：客户端时间戳、NTP stratum、主机名
type MetadataCollector struct {
	base
	clock      clockwork.Clock
	stratum    StratumFunc
	stratumTTL time.Duration
	cache      *cache.Cache
	hostInfo   func(ctx context.Context) (*host.InfoStat, error)
}

// MetadataOption customizes a MetadataCollector.
type MetadataOption func(*MetadataCollector)

func WithMetadataClock(clock clockwork.Clock) MetadataOption {
	return func(c *MetadataCollector) { c.clock = clock }
}

func WithStratumFunc(fn StratumFunc) MetadataOption {
	return func(c *MetadataCollector) { c.stratum = fn }
}

// NewMetadataCollector 创建元数据数据源，stratum 查询结果缓存 cfg.StratumTTL
func NewMetadataCollector(cfg config.MetadataSourceConfig, m monitor.CollectorMetrics, log *zap.Logger, opts ...MetadataOption) *MetadataCollector {
	c := &MetadataCollector{
		base:       newBase(MetaKey, m, log),
		clock:      clockwork.NewRealClock(),
		stratum:    ChronyStratum,
		stratumTTL: cfg.StratumTTL,
		cache:      cache.New(cache.NoExpiration, 10*time.Minute),
		hostInfo:   host.InfoWithContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MetadataCollector) Init() error {
	ctx, cancel := sampleContext()
	defer cancel()
	if _, err := c.hostname(ctx); err != nil {
		c.log.Warn("hostname unavailable", zap.Error(err))
	}
	return nil
}

// Sample always yields a value. A failed stratum query reports a null
// stratum and is retried on the next poll.
func (c *MetadataCollector) Sample() (uploader.Sample, bool) {
	start := time.Now()
	defer c.observe(start)

	ctx, cancel := sampleContext()
	defer cancel()

	value := map[string]any{
		ClientTimestampKey: c.clock.Now().UnixMilli(),
		StratumKey:         nil,
	}
	if stratum, err := c.currentStratum(ctx); err != nil {
		c.fail("get ntp stratum failed", err)
	} else {
		value[StratumKey] = stratum
	}
	if name, err := c.hostname(ctx); err == nil {
		value[HostnameKey] = name
	}
	return uploader.Sample{Key: MetaKey, Value: value}, true
}

func (c *MetadataCollector) currentStratum(ctx context.Context) (int, error) {
	if c.stratumTTL <= 0 {
		return c.stratum(ctx)
	}
	if v, ok := c.cache.Get(StratumKey); ok {
		return v.(int), nil
	}
	stratum, err := c.stratum(ctx)
	if err != nil {
		return 0, err
	}
	c.cache.Set(StratumKey, stratum, c.stratumTTL)
	return stratum, nil
}

func (c *MetadataCollector) hostname(ctx context.Context) (string, error) {
	if v, ok := c.cache.Get(HostnameKey); ok {
		return v.(string), nil
	}
	info, err := c.hostInfo(ctx)
	if err != nil {
		return "", err
	}
	c.cache.Set(HostnameKey, info.Hostname, cache.NoExpiration)
	return info.Hostname, nil
}

// ChronyStratum runs `chronyc -c tracking` and returns the stratum column.
func ChronyStratum(ctx context.Context) (int, error) {
	out, err := exec.CommandContext(ctx, "chronyc", "-c", "tracking").Output()
	if err != nil {
		return 0, fmt.Errorf("chronyc tracking: %w", err)
	}
	return ParseChronyTracking(string(out))
}

// ParseChronyTracking extracts the stratum from chronyc's CSV tracking
// report (reference id, reference name, stratum, ...).
func ParseChronyTracking(out string) (int, error) {
	line := strings.TrimSpace(out)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Split(line, ",")
	if len(fields) < 3 {
		return 0, fmt.Errorf("unexpected chronyc output %q", line)
	}
	stratum, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return 0, fmt.Errorf("parse stratum %q: %w", fields[2], err)
	}
	return stratum, nil
}
