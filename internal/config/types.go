package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级参数：监听端口、日志与缓存存储。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	Origin          string   `mapstructure:"Origin"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StorageDriver   string   `mapstructure:"StorageDriver"`
	StoragePath     string   `mapstructure:"StoragePath"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// AgentConfig 描述缓存版本与路由规则，版本号变化会触发新一轮安装与激活。
type AgentConfig struct {
	CacheVersion       string   `mapstructure:"CacheVersion"`
	StaticCachePrefix  string   `mapstructure:"StaticCachePrefix"`
	DataCachePrefix    string   `mapstructure:"DataCachePrefix"`
	OfflineURL         string   `mapstructure:"OfflineURL"`
	Precache           []string `mapstructure:"Precache"`
	StaticPaths        []string `mapstructure:"StaticPaths"`
	APIPrefixes        []string `mapstructure:"APIPrefixes"`
	SkipWaiting        bool     `mapstructure:"SkipWaiting"`
	InstallConcurrency int      `mapstructure:"InstallConcurrency"`
	SyncTags           []string `mapstructure:"SyncTags"`
}

// NotificationConfig 决定推送通知的展示内容。
type NotificationConfig struct {
	Title    string `mapstructure:"Title"`
	Body     string `mapstructure:"Body"`
	Icon     string `mapstructure:"Icon"`
	Badge    string `mapstructure:"Badge"`
	ClickURL string `mapstructure:"ClickURL"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global       GlobalConfig       `mapstructure:",squash"`
	Agent        AgentConfig        `mapstructure:",squash"`
	Notification NotificationConfig `mapstructure:"Notification"`
}
