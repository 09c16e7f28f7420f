package fetch

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/discussionblog/offline-agent/internal/cache"
)

// Type 对应浏览器 Response.type。
type Type string

const (
	// TypeBasic 同源响应，只有这一类会被静态缓存收录。
	TypeBasic Type = "basic"
	// TypeCORS 跨源响应。
	TypeCORS Type = "cors"
	// TypeDefault 由缓存还原或本地构造的响应。
	TypeDefault Type = "default"
)

// Response 是网络或缓存给出的响应，正文只能读取一次。
type Response struct {
	Status int
	Header http.Header
	URL    string
	Type   Type

	mu       sync.Mutex
	body     io.ReadCloser
	bodyUsed bool
}

// NewResponse 构造响应，body 为 nil 时视为空正文。
func NewResponse(status int, header http.Header, body io.ReadCloser) *Response {
	if header == nil {
		header = http.Header{}
	}
	if body == nil {
		body = http.NoBody
	}
	return &Response{
		Status: status,
		Header: header,
		Type:   TypeDefault,
		body:   body,
	}
}

// FromSnapshot 用缓存快照还原一个全新的响应，每次调用都拥有独立正文。
func FromSnapshot(snap cache.Snapshot) *Response {
	snap = snap.Clone()
	resp := NewResponse(snap.Status, snap.Header, io.NopCloser(bytes.NewReader(snap.Body)))
	resp.URL = snap.URL
	if snap.Type != "" {
		resp.Type = Type(snap.Type)
	}
	return resp
}

// OK 对应 Response.ok。
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status <= 299
}

// Body 取走正文，第二次调用返回 ErrBodyUsed。
func (r *Response) Body() (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bodyUsed {
		return nil, ErrBodyUsed
	}
	r.bodyUsed = true
	return r.body, nil
}

// BodyUsed 报告正文是否已被取走。
func (r *Response) BodyUsed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodyUsed
}

// Bytes 读取并消费全部正文。
func (r *Response) Bytes() ([]byte, error) {
	body, err := r.Body()
	if err != nil {
		return nil, err
	}
	return drain(body)
}

// Clone 在正文被读取前复制响应。原响应与副本各自持有独立的 reader。
func (r *Response) Clone() (*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bodyUsed {
		return nil, ErrBodyUsed
	}
	data, err := drain(r.body)
	if err != nil {
		return nil, err
	}
	r.body = io.NopCloser(bytes.NewReader(data))
	return &Response{
		Status: r.Status,
		Header: r.Header.Clone(),
		URL:    r.URL,
		Type:   r.Type,
		body:   io.NopCloser(bytes.NewReader(bytes.Clone(data))),
	}, nil
}

// Snapshot 消费正文并生成可写入缓存的快照。
func (r *Response) Snapshot() (cache.Snapshot, error) {
	data, err := r.Bytes()
	if err != nil {
		return cache.Snapshot{}, err
	}
	return cache.Snapshot{
		Status:   r.Status,
		Header:   r.Header.Clone(),
		Body:     data,
		URL:      r.URL,
		Type:     string(r.Type),
		StoredAt: time.Now().UTC(),
	}, nil
}
