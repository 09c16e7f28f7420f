package cache

import (
	"errors"
	"fmt"
	"strings"
)

// Partition 是调度层使用的逻辑缓存分区。
type Partition string

const (
	PartitionStatic Partition = "static"
	PartitionData   Partition = "data"
)

// Registry 记录当前版本下逻辑分区到物理缓存名的映射，同时也是激活阶段的白名单。
type Registry struct {
	version string
	names   map[Partition]string
	order   []Partition
}

// NewRegistry 以 "<prefix>-<version>" 生成各分区的缓存名。
func NewRegistry(version string, prefixes map[Partition]string) (Registry, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return Registry{}, errors.New("cache version required")
	}
	reg := Registry{
		version: version,
		names:   make(map[Partition]string, len(prefixes)),
	}
	seen := make(map[string]Partition, len(prefixes))
	for _, partition := range []Partition{PartitionStatic, PartitionData} {
		prefix, ok := prefixes[partition]
		if !ok {
			return Registry{}, fmt.Errorf("cache prefix for %s partition required", partition)
		}
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			return Registry{}, fmt.Errorf("cache prefix for %s partition required", partition)
		}
		name := prefix + "-" + version
		if err := validateName(name); err != nil {
			return Registry{}, fmt.Errorf("%s partition: %w", partition, err)
		}
		if other, dup := seen[name]; dup {
			return Registry{}, fmt.Errorf("partitions %s and %s share cache name %s", other, partition, name)
		}
		seen[name] = partition
		reg.names[partition] = name
		reg.order = append(reg.order, partition)
	}
	return reg, nil
}

// Version 返回生成缓存名使用的版本号。
func (r Registry) Version() string {
	return r.version
}

// Name 返回分区当前的物理缓存名。
func (r Registry) Name(p Partition) string {
	return r.names[p]
}

// Whitelist 返回当前版本全部缓存名，激活时不在其中的缓存都会被删除。
func (r Registry) Whitelist() []string {
	out := make([]string, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, r.names[p])
	}
	return out
}

// Contains 判断缓存名是否属于当前版本。
func (r Registry) Contains(name string) bool {
	for _, current := range r.names {
		if current == name {
			return true
		}
	}
	return false
}
