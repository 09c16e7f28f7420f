package fetch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/discussionblog/offline-agent/internal/cache"
)

// Mode 对应浏览器请求的 mode，仅 navigate 会影响路由分类。
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeCORS       Mode = "cors"
	ModeNoCORS     Mode = "no-cors"
)

// ErrBodyUsed 表示正文已经被读取，无法再次读取或克隆。
var ErrBodyUsed = errors.New("body already used")

// Request 是一次被拦截的请求。URL 为绝对地址。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Mode   Mode

	mu       sync.Mutex
	body     io.ReadCloser
	bodyUsed bool
}

// NewRequest 构造请求，body 可以为 nil。
func NewRequest(method, rawURL string, body io.Reader) (*Request, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("request url must be absolute: %s", rawURL)
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	req := &Request{
		Method: method,
		URL:    parsed,
		Header: http.Header{},
	}
	if body != nil {
		rc, ok := body.(io.ReadCloser)
		if !ok {
			rc = io.NopCloser(body)
		}
		req.body = rc
	}
	return req, nil
}

// IsNavigation 判断请求是否为整页导航。
func (r *Request) IsNavigation() bool {
	return r.Mode == ModeNavigate
}

// Descriptor 返回请求对应的缓存键。
func (r *Request) Descriptor() cache.Descriptor {
	return cache.NewDescriptor(r.Method, r.URL.String())
}

// Body 取走正文，第二次调用返回 ErrBodyUsed。没有正文时返回 http.NoBody。
func (r *Request) Body() (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bodyUsed {
		return nil, ErrBodyUsed
	}
	r.bodyUsed = true
	if r.body == nil {
		return http.NoBody, nil
	}
	return r.body, nil
}

// BodyUsed 报告正文是否已被取走。
func (r *Request) BodyUsed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodyUsed
}

// Clone 在正文被读取前复制请求，两份请求拥有各自独立的正文。
func (r *Request) Clone() (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bodyUsed {
		return nil, ErrBodyUsed
	}
	u := *r.URL
	clone := &Request{
		Method: r.Method,
		URL:    &u,
		Header: r.Header.Clone(),
		Mode:   r.Mode,
	}
	if r.body == nil {
		return clone, nil
	}
	data, err := drain(r.body)
	if err != nil {
		return nil, err
	}
	r.body = io.NopCloser(bytes.NewReader(data))
	clone.body = io.NopCloser(bytes.NewReader(data))
	return clone, nil
}

func drain(rc io.ReadCloser) ([]byte, error) {
	data, err := io.ReadAll(rc)
	closeErr := rc.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("buffer body: %w", err)
	}
	return data, nil
}
