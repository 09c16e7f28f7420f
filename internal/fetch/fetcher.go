package fetch

import (
	"context"
	"errors"
)

// ErrNetwork 表示请求在网络层失败（连接错误、DNS、TLS 等），与 HTTP 状态码无关。
var ErrNetwork = errors.New("network request failed")

// Fetcher 发起网络请求。返回的错误若属于网络失败，应满足 errors.Is(err, ErrNetwork)。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc 让普通函数满足 Fetcher，便于测试注入。
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
