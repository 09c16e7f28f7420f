package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
Origin = "https://blog.local"
StoragePath = "./data"
UpstreamTimeout = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadParsesDurationAndLists(t *testing.T) {
	cfg := `
Origin = "https://blog.local/"
StorageDriver = "SQLite"
UpstreamTimeout = 15
APIPrefixes = ["/posts", " /feed "]
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.UpstreamTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("纯数字应按秒解析: %v", loaded.Global.UpstreamTimeout.DurationValue())
	}
	if loaded.Global.StorageDriver != "sqlite" {
		t.Fatalf("驱动名应转为小写: %s", loaded.Global.StorageDriver)
	}
	if loaded.Global.Origin != "https://blog.local" {
		t.Fatalf("Origin 末尾斜杠应被去除: %s", loaded.Global.Origin)
	}
	if len(loaded.Agent.APIPrefixes) != 2 || loaded.Agent.APIPrefixes[1] != "/feed" {
		t.Fatalf("APIPrefixes 应被裁剪: %v", loaded.Agent.APIPrefixes)
	}
}

func TestWatchReportsVersionChange(t *testing.T) {
	path := writeTempConfig(t, "Origin = \"https://blog.local\"\nCacheVersion = \"v1\"\n")

	changes := make(chan *Config, 4)
	if err := Watch(path, func(cfg *Config, err error) {
		if err == nil {
			changes <- cfg
		}
	}); err != nil {
		t.Fatalf("Watch 返回错误: %v", err)
	}

	if err := os.WriteFile(path, []byte("Origin = \"https://blog.local\"\nCacheVersion = \"v2\"\n"), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Agent.CacheVersion == "v2" {
				return
			}
		case <-deadline:
			t.Fatalf("未收到配置变更通知")
		}
	}
}

func TestWatchMissingFile(t *testing.T) {
	if err := Watch(t.TempDir()+"/absent.toml", func(*Config, error) {}); err == nil {
		t.Fatalf("缺失文件应返回错误")
	}
}
