package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedDrivers = map[string]struct{}{
	"file":   {},
	"sqlite": {},
	"memory": {},
}

var supportedLogLevels = map[string]struct{}{
	"trace": {},
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
	"fatal": {},
	"panic": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if err := validateOrigin(g.Origin); err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}
	if level := strings.ToLower(strings.TrimSpace(g.LogLevel)); level != "" {
		if _, ok := supportedLogLevels[level]; !ok {
			return newFieldError("Global.LogLevel", "仅支持 trace/debug/info/warn/error")
		}
	}
	if _, ok := supportedDrivers[g.StorageDriver]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 file|sqlite|memory")
	}
	if g.StorageDriver == "file" && strings.TrimSpace(g.StoragePath) == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}

	a := c.Agent
	if a.CacheVersion == "" {
		return newFieldError("Agent.CacheVersion", "不能为空")
	}
	if strings.ContainsAny(a.CacheVersion, `/\ `) {
		return newFieldError("Agent.CacheVersion", "不允许包含路径分隔符或空格")
	}
	if strings.TrimSpace(a.StaticCachePrefix) == "" {
		return newFieldError("Agent.StaticCachePrefix", "不能为空")
	}
	if strings.TrimSpace(a.DataCachePrefix) == "" {
		return newFieldError("Agent.DataCachePrefix", "不能为空")
	}
	if strings.TrimSpace(a.StaticCachePrefix) == strings.TrimSpace(a.DataCachePrefix) {
		return newFieldError("Agent.DataCachePrefix", "不能与 StaticCachePrefix 相同")
	}
	if !strings.HasPrefix(a.OfflineURL, "/") {
		return newFieldError("Agent.OfflineURL", "必须是以 / 开头的路径")
	}
	if len(a.Precache) == 0 {
		return newFieldError("Agent.Precache", "至少需要一个地址")
	}
	for _, entry := range a.Precache {
		if !strings.HasPrefix(entry, "/") {
			return newFieldError("Agent.Precache", fmt.Sprintf("必须是以 / 开头的路径: %s", entry))
		}
	}
	if !contains(a.Precache, a.OfflineURL) {
		return newFieldError("Agent.Precache", "必须包含 OfflineURL")
	}
	for _, prefix := range a.APIPrefixes {
		if !strings.HasPrefix(prefix, "/") {
			return newFieldError("Agent.APIPrefixes", fmt.Sprintf("必须是以 / 开头的路径: %s", prefix))
		}
		if strings.HasPrefix(prefix, "/-/") {
			return newFieldError("Agent.APIPrefixes", "不能覆盖 /-/ 管理路径")
		}
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("源站不应包含路径: %s", raw)
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
