package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/discussionblog/offline-agent/internal/fetch"
	"github.com/discussionblog/offline-agent/internal/lifecycle"
	"github.com/discussionblog/offline-agent/internal/logging"
	"github.com/discussionblog/offline-agent/internal/server"
	"github.com/discussionblog/offline-agent/internal/strategy"
)

const (
	// ClientCookie 标识浏览器页面，用于查找控制该页面的 worker。
	ClientCookie = "agent_client"

	headerSource = "X-Offline-Agent-Source"
)

// Handler 把 Fiber 请求转换为拦截任务，交给控制该页面的 worker 处理。
// 尚无激活版本时请求直接透传到源站。
type Handler struct {
	registration *lifecycle.Registration
	fetcher      fetch.Fetcher
	origin       *url.URL
	logger       *logrus.Logger

	// tasks 跟踪每个拦截任务的后台写入，关闭前统一等待。
	tasks conc.WaitGroup
}

// NewHandler constructs the interception handler.
func NewHandler(registration *lifecycle.Registration, fetcher fetch.Fetcher, origin *url.URL, logger *logrus.Logger) *Handler {
	return &Handler{
		registration: registration,
		fetcher:      fetcher,
		origin:       origin,
		logger:       logger,
	}
}

// Handle 执行拦截：构建请求、选择控制者、调度策略并写回响应。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := h.buildRequest(c)
	if err != nil {
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	clientID := c.Cookies(ClientCookie)
	worker := h.registration.Controller(clientID)
	if req.IsNavigation() {
		client := h.registration.Clients().Register(clientID, req.URL.String(), worker)
		if client.ID != clientID {
			c.Cookie(&fiber.Cookie{
				Name:     ClientCookie,
				Value:    client.ID,
				Path:     "/",
				HTTPOnly: true,
				SameSite: fiber.CookieSameSiteLaxMode,
			})
		}
	}

	if worker == nil {
		return h.passThrough(c, ctx, req, requestID, started)
	}

	ev := strategy.NewEvent(ctx, req)
	if requestID != "" {
		ev.ID = requestID
	}
	result, err := worker.Handle(ev)
	h.tasks.Go(func() {
		if settleErr := ev.Settle(); settleErr != nil {
			h.logger.WithError(settleErr).WithFields(logrus.Fields{
				"action":     "settle",
				"request_id": ev.ID,
			}).Error("background_task_failed")
		}
	})
	if err != nil {
		return h.writeFailure(c, err)
	}
	return h.writeResponse(c, result.Response, result.Source)
}

// Drain 等待所有拦截任务的后台写入结束。
func (h *Handler) Drain() {
	h.tasks.Wait()
}

func (h *Handler) passThrough(c fiber.Ctx, ctx context.Context, req *fetch.Request, requestID string, started time.Time) error {
	resp, err := h.fetcher.Fetch(ctx, req)
	fields := logging.RequestFields(requestID, req.Method, req.URL.String(), "passthrough", string(strategy.SourceNetwork))
	fields["action"] = "fetch"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		h.logger.WithFields(fields).WithError(err).Warn("fetch_failed")
		return h.writeFailure(c, err)
	}
	fields["status"] = resp.Status
	h.logger.WithFields(fields).Info("fetch_complete")
	return h.writeResponse(c, resp, strategy.SourceNetwork)
}

func (h *Handler) buildRequest(c fiber.Ctx) (*fetch.Request, error) {
	uri := c.Request().URI()
	relative := &url.URL{Path: normalizeRequestPath(string(uri.Path()))}
	if query := uri.QueryString(); len(query) > 0 {
		relative.RawQuery = string(query)
	}
	target := h.origin.ResolveReference(relative)

	var body io.Reader
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(bytes.Clone(raw))
	}
	req, err := fetch.NewRequest(c.Method(), target.String(), body)
	if err != nil {
		return nil, err
	}
	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Host")
	req.Mode = requestMode(req.Header.Get("Sec-Fetch-Mode"))
	return req, nil
}

func (h *Handler) writeResponse(c fiber.Ctx, resp *fetch.Response, source strategy.Source) error {
	copyResponseHeaders(c, resp.Header)
	c.Set(headerSource, string(source))
	c.Status(resp.Status)

	body, err := resp.Body()
	if err != nil {
		return h.writeError(c, fiber.StatusInternalServerError, "response_unavailable")
	}
	defer body.Close()
	if c.Method() == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(c.Response().BodyWriter(), body); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "proxy stream failed: "+err.Error())
	}
	return nil
}

// writeFailure：网络失败且没有缓存兜底时返回 502，其余错误视为内部错误。
func (h *Handler) writeFailure(c fiber.Ctx, err error) error {
	if errors.Is(err, fetch.ErrNetwork) {
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	return h.writeError(c, fiber.StatusInternalServerError, "internal_error")
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func requestMode(raw string) fetch.Mode {
	switch fetch.Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case fetch.ModeNavigate:
		return fetch.ModeNavigate
	case fetch.ModeCORS:
		return fetch.ModeCORS
	case fetch.ModeNoCORS:
		return fetch.ModeNoCORS
	default:
		return fetch.ModeSameOrigin
	}
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	clean := path.Clean("/" + raw)
	if strings.HasSuffix(raw, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
