package strategy

import (
	"strings"

	"github.com/discussionblog/offline-agent/internal/fetch"
)

// RouteClass 决定请求使用哪种缓存策略，每个请求单独计算，不保存状态。
type RouteClass string

const (
	RouteNavigation  RouteClass = "navigation"
	RouteAPI         RouteClass = "api"
	RouteStaticAsset RouteClass = "static-asset"
	RouteOther       RouteClass = "other"
)

// Rules 描述 API 前缀与静态资源路径。API 按字符串前缀匹配，静态资源按路径精确匹配。
type Rules struct {
	APIPrefixes []string
	StaticPaths []string
}

// DefaultRules 返回博客站点的默认路由规则。
func DefaultRules() Rules {
	return Rules{
		APIPrefixes: []string{"/posts", "/category", "/post", "/tags", "/search"},
		StaticPaths: []string{"/static/css", "/favicon", "/", "/offline.html"},
	}
}

// Classify 依次判断 navigation → api → static-asset → other。
func (r Rules) Classify(req *fetch.Request) RouteClass {
	if req.IsNavigation() {
		return RouteNavigation
	}
	path := req.URL.Path
	if path == "" {
		path = "/"
	}
	for _, prefix := range r.APIPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return RouteAPI
		}
	}
	for _, static := range r.StaticPaths {
		if path == static {
			return RouteStaticAsset
		}
	}
	return RouteOther
}
