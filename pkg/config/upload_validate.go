package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Validate HTTP服务配置校验（未启用时跳过）
func (s *ServerConfig) Validate() error {
	if !s.Enable {
		return nil
	}
	if err := valid.Struct(s); err != nil {
		return err
	}
	if s.Addr == "" {
		return errors.New("server.addr cannot be empty when server.enable is set")
	}
	// 用net包解析地址，验证格式合法性
	if _, err := net.ResolveTCPAddr("tcp", s.Addr); err != nil {
		return fmt.Errorf("server.addr format invalid (expected: :port or ip:port), got %s: %w", s.Addr, err)
	}
	return nil
}

// Validate 上报配置校验
// interval 限制在 1s~1h；url 必须是 http/https 绝对地址。
func (u *UploadConfig) Validate() error {
	if err := valid.Struct(u); err != nil {
		return err
	}
	if u.Interval < time.Second || u.Interval > time.Hour {
		return fmt.Errorf("upload.interval must be between 1s and 1h, got %s", u.Interval)
	}
	parsed, err := url.Parse(u.URL)
	if err != nil {
		return fmt.Errorf("upload.url invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("upload.url must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("upload.url has no host: %q", u.URL)
	}
	return nil
}
