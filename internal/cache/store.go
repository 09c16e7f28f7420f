package cache

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Storage 管理全部命名缓存，进程内所有请求共享同一份实例。
type Storage interface {
	// Open 返回指定名称的缓存，不存在时创建，可重复调用。
	Open(ctx context.Context, name string) (Store, error)
	// Has 判断命名缓存是否存在。
	Has(ctx context.Context, name string) (bool, error)
	// Delete 删除整个命名缓存，返回是否真的删除了内容。
	Delete(ctx context.Context, name string) (bool, error)
	// Names 按创建顺序列出所有命名缓存。
	Names(ctx context.Context) ([]string, error)
	// Match 按创建顺序在所有缓存中查找，返回第一个命中。
	Match(ctx context.Context, desc Descriptor) (Snapshot, error)
	Close() error
}

// Store 是单个命名缓存。Put 对同一 Descriptor 的写入是原子的，后写覆盖先写。
type Store interface {
	Name() string
	Match(ctx context.Context, desc Descriptor) (Snapshot, error)
	Put(ctx context.Context, desc Descriptor, snap Snapshot) error
	Keys(ctx context.Context) ([]Descriptor, error)
}

// Descriptor 以 method + 绝对 URL 标识一次请求，同时作为缓存键。
type Descriptor struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// NewDescriptor 规范化 method 后构造 Descriptor。
func NewDescriptor(method, rawURL string) Descriptor {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return Descriptor{Method: method, URL: rawURL}
}

// Key 返回存储层使用的键。
func (d Descriptor) Key() string {
	return d.Method + " " + d.URL
}

// Cacheable 与浏览器 Cache API 保持一致：只有 GET 可以写入。
func (d Descriptor) Cacheable() bool {
	return d.Method == http.MethodGet
}

// Snapshot 是写入缓存时刻的响应快照（状态、头、正文），写入后不可变。
type Snapshot struct {
	Status   int
	Header   http.Header
	Body     []byte
	URL      string
	Type     string
	StoredAt time.Time
}

// Clone 深拷贝快照，调用方可以随意修改返回值。
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Header = s.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	out.Body = bytes.Clone(s.Body)
	return out
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrMethodNotCacheable 表示请求方法不允许写入缓存。
	ErrMethodNotCacheable = errors.New("request method is not cacheable")
	// ErrStoreDeleted 表示句柄对应的命名缓存已经被删除。
	ErrStoreDeleted = errors.New("cache store deleted")
)

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("cache name required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return errors.New("invalid cache name")
	}
	return nil
}
